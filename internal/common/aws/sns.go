// internal/common/aws/sns.go
package aws

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Publisher is the subset of the SNS API the alerter uses.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNSAlerter publishes security alerts to a topic.
type SNSAlerter struct {
	client   Publisher
	topicARN string
}

func NewSNSAlerter(ctx context.Context, region, topicARN string) (*SNSAlerter, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SNSAlerter{client: sns.NewFromConfig(cfg), topicARN: topicARN}, nil
}

// NewSNSAlerterWithClient is used by tests and callers that already hold a client.
func NewSNSAlerterWithClient(client Publisher, topicARN string) *SNSAlerter {
	return &SNSAlerter{client: client, topicARN: topicARN}
}

// Alert publishes the details as a JSON message with the alert kind as a message attribute.
func (s *SNSAlerter) Alert(ctx context.Context, kind string, details map[string]interface{}) error {
	body, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(s.topicARN),
		Subject:  aws.String("nlsql security alert: " + kind),
		Message:  aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {
				DataType:    aws.String("String"),
				StringValue: aws.String(kind),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
