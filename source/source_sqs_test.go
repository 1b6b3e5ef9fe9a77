package source

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// ---- fakes ----

type fakeSQSAPI struct {
	recvOut *sqs.ReceiveMessageOutput
	recvIn  *sqs.ReceiveMessageInput
	recvErr error

	delCalls      int
	delBatchSizes []int
	delOut        *sqs.DeleteMessageBatchOutput
	delErr        error

	visCalls int
	visIn    *sqs.ChangeMessageVisibilityInput
	visErr   error
}

func (f *fakeSQSAPI) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	f.recvIn = params
	if f.recvErr != nil {
		return nil, f.recvErr
	}
	if f.recvOut != nil {
		return f.recvOut, nil
	}
	return &sqs.ReceiveMessageOutput{}, nil
}

func (f *fakeSQSAPI) DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error) {
	f.delCalls++
	f.delBatchSizes = append(f.delBatchSizes, len(params.Entries))
	if f.delErr != nil {
		return nil, f.delErr
	}
	if f.delOut != nil {
		return f.delOut, nil
	}
	return &sqs.DeleteMessageBatchOutput{}, nil
}

func (f *fakeSQSAPI) ChangeMessageVisibility(ctx context.Context, params *sqs.ChangeMessageVisibilityInput, optFns ...func(*sqs.Options)) (*sqs.ChangeMessageVisibilityOutput, error) {
	f.visCalls++
	f.visIn = params
	if f.visErr != nil {
		return nil, f.visErr
	}
	return &sqs.ChangeMessageVisibilityOutput{}, nil
}

var _ sqsAPI = (*fakeSQSAPI)(nil)

func openReceiver(t *testing.T, api sqsAPI) Receiver {
	t.Helper()
	f, err := NewSQSFactory(api, SQSConfig{QueueURL: "https://queue/test", VisibilityTO: 300})
	if err != nil {
		t.Fatalf("NewSQSFactory: %v", err)
	}
	r, err := f.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return r
}

// ---- tests ----

func TestFetchBatchMapsMessages(t *testing.T) {
	api := &fakeSQSAPI{
		recvOut: &sqs.ReceiveMessageOutput{
			Messages: []sqstypes.Message{
				{
					MessageId:     aws.String("m-1"),
					Body:          aws.String("payload one"),
					ReceiptHandle: aws.String("rh-1"),
					MessageAttributes: map[string]sqstypes.MessageAttributeValue{
						"text": {DataType: aws.String("String"), StringValue: aws.String("str")},
						"raw":  {DataType: aws.String("Binary"), BinaryValue: []byte{1, 2, 3}},
					},
				},
				{
					MessageId: aws.String("m-2"),
					Body:      aws.String("payload two"),
				},
			},
		},
	}

	r := openReceiver(t, api)
	msgs, err := r.FetchBatch(context.Background(), 5, 2*time.Second)
	if err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}

	if got := string(msgs[0].Body()); got != "payload one" {
		t.Errorf("body = %q", got)
	}
	props := msgs[0].Properties()
	if got := string(props["text"]); got != "str" {
		t.Errorf("text property = %q", got)
	}
	if got := props["raw"]; len(got) != 3 || got[0] != 1 {
		t.Errorf("binary property = %v", got)
	}
	if props := msgs[1].Properties(); props != nil {
		t.Errorf("attribute-less message properties = %v, want nil", props)
	}

	if got := api.recvIn.MaxNumberOfMessages; got != 5 {
		t.Errorf("MaxNumberOfMessages = %d, want 5", got)
	}
	if got := api.recvIn.WaitTimeSeconds; got != 2 {
		t.Errorf("WaitTimeSeconds = %d, want 2", got)
	}
	if got := api.recvIn.VisibilityTimeout; got != 300 {
		t.Errorf("VisibilityTimeout = %d, want 300", got)
	}
}

func TestFetchBatchCapsProviderLimits(t *testing.T) {
	api := &fakeSQSAPI{}
	r := openReceiver(t, api)

	if _, err := r.FetchBatch(context.Background(), 500, time.Minute); err != nil {
		t.Fatalf("FetchBatch: %v", err)
	}
	if got := api.recvIn.MaxNumberOfMessages; got != 10 {
		t.Errorf("MaxNumberOfMessages = %d, want the provider cap 10", got)
	}
	if got := api.recvIn.WaitTimeSeconds; got != 20 {
		t.Errorf("WaitTimeSeconds = %d, want the provider cap 20", got)
	}
}

func TestFetchBatchError(t *testing.T) {
	api := &fakeSQSAPI{recvErr: errors.New("down")}
	r := openReceiver(t, api)

	if _, err := r.FetchBatch(context.Background(), 1, 0); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestAckBatchChunksDeletes(t *testing.T) {
	api := &fakeSQSAPI{}
	r := openReceiver(t, api)
	ba := r.(BatchAcker)

	msgs := make([]Message, 0, 25)
	for i := 0; i < 25; i++ {
		msgs = append(msgs, &sqsMessage{
			recv: r.(*SQSReceiver),
			m: &sqstypes.Message{
				MessageId:     aws.String(fmt.Sprintf("m-%d", i)),
				ReceiptHandle: aws.String(fmt.Sprintf("rh-%d", i)),
			},
		})
	}

	if err := ba.AckBatch(context.Background(), msgs); err != nil {
		t.Fatalf("AckBatch: %v", err)
	}
	if api.delCalls != 3 {
		t.Fatalf("delete calls = %d, want 3", api.delCalls)
	}
	want := []int{10, 10, 5}
	for i, n := range api.delBatchSizes {
		if n != want[i] {
			t.Errorf("chunk %d size = %d, want %d", i, n, want[i])
		}
	}
}

func TestAckBatchSurfacesPartialFailure(t *testing.T) {
	api := &fakeSQSAPI{
		delOut: &sqs.DeleteMessageBatchOutput{
			Failed: []sqstypes.BatchResultErrorEntry{
				{Id: aws.String("m-0"), Code: aws.String("InternalError"), Message: aws.String("boom")},
			},
		},
	}
	r := openReceiver(t, api)
	ba := r.(BatchAcker)

	msg := &sqsMessage{recv: r.(*SQSReceiver), m: &sqstypes.Message{
		MessageId:     aws.String("m-0"),
		ReceiptHandle: aws.String("rh-0"),
	}}
	if err := ba.AckBatch(context.Background(), []Message{msg}); err == nil {
		t.Fatal("expected error for failed delete entry, got nil")
	}
}

func TestAbandonResetsVisibility(t *testing.T) {
	api := &fakeSQSAPI{}
	r := openReceiver(t, api)

	msg := &sqsMessage{recv: r.(*SQSReceiver), m: &sqstypes.Message{
		MessageId:     aws.String("m-0"),
		ReceiptHandle: aws.String("rh-0"),
	}}
	if err := msg.Abandon(context.Background()); err != nil {
		t.Fatalf("Abandon: %v", err)
	}
	if api.visCalls != 1 {
		t.Fatalf("visibility calls = %d, want 1", api.visCalls)
	}
	if got := api.visIn.VisibilityTimeout; got != 0 {
		t.Errorf("VisibilityTimeout = %d, want 0 for immediate redelivery", got)
	}
	if got := aws.ToString(api.visIn.ReceiptHandle); got != "rh-0" {
		t.Errorf("receipt handle = %q", got)
	}
}

func TestNewSQSFactoryValidation(t *testing.T) {
	if _, err := NewSQSFactory(nil, SQSConfig{QueueURL: "q"}); err == nil {
		t.Error("nil client accepted")
	}
	if _, err := NewSQSFactory(&fakeSQSAPI{}, SQSConfig{}); err == nil {
		t.Error("empty queue url accepted")
	}
	if _, err := NewSQSFactory(&fakeSQSAPI{}, SQSConfig{QueueURL: "q", VisibilityTO: -1}); err == nil {
		t.Error("negative visibility timeout accepted")
	}
}
