package source

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// sqsAPI is the subset of the SQS client the receiver needs.
type sqsAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
	ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error)
}

type SQSConfig struct {
	QueueURL string

	// VisibilityTimeout applied to fetched messages, in seconds.
	VisibilityTO int32
}

// SQSFactory opens one SQSReceiver per pull task.
type SQSFactory struct {
	client sqsAPI
	cfg    SQSConfig
}

func NewSQSFactory(client sqsAPI, cfg SQSConfig) (*SQSFactory, error) {
	if client == nil {
		return nil, fmt.Errorf("sqs client is required")
	}
	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("queue url is required")
	}
	if cfg.VisibilityTO < 0 {
		return nil, fmt.Errorf("visibility timeout must be non-negative")
	}
	return &SQSFactory{client: client, cfg: cfg}, nil
}

func (f *SQSFactory) Open(ctx context.Context) (Receiver, error) {
	_ = ctx
	r := &SQSReceiver{client: f.client, cfg: f.cfg}
	r.queueURLPtr = &r.cfg.QueueURL
	return r, nil
}

// SQSReceiver pulls messages from one SQS queue. It holds no connection state
// of its own; Close exists to satisfy the Receiver contract uniformly across
// providers.
type SQSReceiver struct {
	client      sqsAPI
	cfg         SQSConfig
	queueURLPtr *string
}

func (r *SQSReceiver) FetchBatch(ctx context.Context, max int, wait time.Duration) ([]Message, error) {
	// SQS caps a single receive at 10 messages and 20s of long polling.
	n := int32(max)
	if n > 10 {
		n = 10
	}
	if n < 1 {
		n = 1
	}
	waitSec := int32(wait / time.Second)
	if waitSec > 20 {
		waitSec = 20
	}
	if waitSec < 0 {
		waitSec = 0
	}

	out, err := r.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:              r.queueURLPtr,
		MaxNumberOfMessages:   n,
		WaitTimeSeconds:       waitSec,
		VisibilityTimeout:     r.cfg.VisibilityTO,
		MessageAttributeNames: []string{"All"},
	})
	if err != nil {
		return nil, err
	}

	msgs := make([]Message, 0, len(out.Messages))
	for i := range out.Messages {
		msgs = append(msgs, &sqsMessage{recv: r, m: &out.Messages[i]})
	}
	return msgs, nil
}

func (r *SQSReceiver) Close() error { return nil }

// AckBatch deletes messages in chunks of 10 (the SQS batch limit).
func (r *SQSReceiver) AckBatch(ctx context.Context, msgs []Message) error {
	const max = 10

	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, max)
	in := sqs.DeleteMessageBatchInput{QueueUrl: r.queueURLPtr}

	for i := 0; i < len(msgs); i += max {
		end := i + max
		if end > len(msgs) {
			end = len(msgs)
		}

		entries = entries[:0]
		var ids [max]string
		var rhs [max]string

		for j := i; j < end; j++ {
			sm, ok := msgs[j].(*sqsMessage)
			if !ok {
				return fmt.Errorf("message is not an sqs message: %T", msgs[j])
			}
			k := len(entries)
			ids[k] = sm.id()
			rhs[k] = aws.ToString(sm.m.ReceiptHandle)
			entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{Id: &ids[k], ReceiptHandle: &rhs[k]})
		}

		in.Entries = entries
		out, err := r.client.DeleteMessageBatch(ctx, &in)
		if err != nil {
			return err
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return fmt.Errorf("sqs delete failed id=%s code=%s message=%s",
				aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message))
		}
	}
	return nil
}

var (
	_ Receiver   = (*SQSReceiver)(nil)
	_ BatchAcker = (*SQSReceiver)(nil)
)

type sqsMessage struct {
	recv *SQSReceiver
	m    *sqstypes.Message
}

func (m *sqsMessage) Body() []byte {
	return []byte(aws.ToString(m.m.Body))
}

func (m *sqsMessage) Properties() map[string][]byte {
	if len(m.m.MessageAttributes) == 0 {
		return nil
	}
	props := make(map[string][]byte, len(m.m.MessageAttributes))
	for k, v := range m.m.MessageAttributes {
		if v.BinaryValue != nil {
			props[k] = v.BinaryValue
			continue
		}
		props[k] = []byte(aws.ToString(v.StringValue))
	}
	return props
}

func (m *sqsMessage) Ack(ctx context.Context) error {
	return m.recv.AckBatch(ctx, []Message{m})
}

// Abandon makes the message immediately visible again so the queue redelivers
// it instead of waiting out the visibility timeout.
func (m *sqsMessage) Abandon(ctx context.Context) error {
	_, err := m.recv.client.ChangeMessageVisibility(ctx, &sqs.ChangeMessageVisibilityInput{
		QueueUrl:          m.recv.queueURLPtr,
		ReceiptHandle:     m.m.ReceiptHandle,
		VisibilityTimeout: 0,
	})
	return err
}

func (m *sqsMessage) id() string {
	if m.m.MessageId != nil && *m.m.MessageId != "" {
		return *m.m.MessageId
	}
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}

var _ Message = (*sqsMessage)(nil)
