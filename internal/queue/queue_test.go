package queue

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/adverant/nexus/voterroll-worker/internal/errors"
	"github.com/adverant/nexus/voterroll-worker/internal/processor"
	"github.com/adverant/nexus/voterroll-worker/internal/storage"
	"github.com/adverant/nexus/voterroll-worker/internal/voter"
)

type fakeProcessor struct {
	result   *processor.ProcessResult
	err      error
	requests []*processor.ProcessRequest
	updates  []storage.JobUpdate
}

func (f *fakeProcessor) ProcessDocument(ctx context.Context, req *processor.ProcessRequest) (*processor.ProcessResult, error) {
	f.requests = append(f.requests, req)
	return f.result, f.err
}

func (f *fakeProcessor) UpdateJobStatus(ctx context.Context, u *storage.JobUpdate) error {
	f.updates = append(f.updates, *u)
	return nil
}

type recordingPublisher struct {
	statuses []string
}

func (r *recordingPublisher) PublishStatus(ctx context.Context, jobID, status string, fields map[string]interface{}) {
	r.statuses = append(r.statuses, status)
}

func newTestConsumer(p processor.DocumentProcessorInterface, pub StatusPublisher) *Consumer {
	return &Consumer{
		processor: p,
		publisher: pub,
		config:    &ConsumerConfig{QueueName: "voterroll:test", Concurrency: 1},
	}
}

func uploadedFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "roll.pdf")
	if err := os.WriteFile(path, []byte("%PDF-1.4"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func task(t *testing.T, data *JobData) *asynq.Task {
	t.Helper()
	tk, err := NewProcessTask(data)
	if err != nil {
		t.Fatalf("NewProcessTask() error = %v", err)
	}
	return tk
}

func TestHandleProcessRollSuccess(t *testing.T) {
	path := uploadedFile(t)
	proc := &fakeProcessor{result: &processor.ProcessResult{
		TotalPages: 2,
		Pages:      []processor.PageReport{{Page: 1, Status: processor.PageOK}, {Page: 2, Status: processor.PageNoGrid}},
		Records:    []voter.Record{{VoterID: "ABC1234567"}},
	}}
	pub := &recordingPublisher{}
	c := newTestConsumer(proc, pub)

	err := c.handleProcessRoll(context.Background(), task(t, &JobData{JobID: "j1", Filename: "roll.pdf", FilePath: path}))
	if err != nil {
		t.Fatalf("handleProcessRoll() error = %v", err)
	}

	if len(proc.requests) != 1 || !proc.requests[0].Persist || proc.requests[0].FilePath != path {
		t.Errorf("requests = %+v", proc.requests)
	}
	if len(proc.updates) != 2 || proc.updates[0].Status != storage.StatusProcessing || proc.updates[1].Status != storage.StatusCompleted {
		t.Fatalf("updates = %+v", proc.updates)
	}
	if proc.updates[1].RecordCount != 1 || proc.updates[1].TotalPages != 2 {
		t.Errorf("completed update = %+v", proc.updates[1])
	}
	if fmt.Sprint(pub.statuses) != "[processing completed]" {
		t.Errorf("published statuses = %v", pub.statuses)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("uploaded file should be removed after a completed job")
	}
}

func TestHandleProcessRollDocumentErrorSkipsRetry(t *testing.T) {
	path := uploadedFile(t)
	proc := &fakeProcessor{err: errors.NewDocumentUnreadableError("j2", fmt.Errorf("bad xref"))}
	c := newTestConsumer(proc, nil)

	err := c.handleProcessRoll(context.Background(), task(t, &JobData{JobID: "j2", FilePath: path}))
	if !stderrors.Is(err, asynq.SkipRetry) {
		t.Fatalf("error = %v, want SkipRetry", err)
	}
	last := proc.updates[len(proc.updates)-1]
	if last.Status != storage.StatusFailed || last.ErrorCode != string(errors.ErrorDocumentUnreadable) {
		t.Errorf("failed update = %+v", last)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("uploaded file should be removed after a permanent failure")
	}
}

func TestHandleProcessRollStorageErrorRetries(t *testing.T) {
	path := uploadedFile(t)
	proc := &fakeProcessor{err: errors.NewStorageFailedError("j3", fmt.Errorf("connection reset"))}
	c := newTestConsumer(proc, nil)

	err := c.handleProcessRoll(context.Background(), task(t, &JobData{JobID: "j3", FilePath: path}))
	if err == nil || stderrors.Is(err, asynq.SkipRetry) {
		t.Fatalf("error = %v, want a retryable error", err)
	}
	if last := proc.updates[len(proc.updates)-1]; last.Status != storage.StatusQueued {
		t.Errorf("status = %s, want queued for retry", last.Status)
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("uploaded file must be kept for the retry")
	}
}

func TestHandleProcessRollBadPayload(t *testing.T) {
	c := newTestConsumer(&fakeProcessor{}, nil)

	err := c.handleProcessRoll(context.Background(), asynq.NewTask(TaskTypeProcessRoll, []byte("{not json")))
	if !stderrors.Is(err, asynq.SkipRetry) {
		t.Errorf("error = %v, want SkipRetry", err)
	}
	err = c.handleProcessRoll(context.Background(), asynq.NewTask(TaskTypeProcessRoll, []byte(`{"jobId":"x"}`)))
	if !stderrors.Is(err, asynq.SkipRetry) {
		t.Errorf("error = %v, want SkipRetry for missing filePath", err)
	}
}

func TestNewProcessTask(t *testing.T) {
	tk := task(t, &JobData{JobID: "j", Filename: "a.pdf", FilePath: "/tmp/a.pdf"})
	if tk.Type() != TaskTypeProcessRoll {
		t.Errorf("Type() = %q", tk.Type())
	}
	var got JobData
	if err := json.Unmarshal(tk.Payload(), &got); err != nil {
		t.Fatal(err)
	}
	if got.FilePath != "/tmp/a.pdf" {
		t.Errorf("payload = %+v", got)
	}
	if _, err := NewProcessTask(&JobData{JobID: "j"}); err == nil {
		t.Error("NewProcessTask() without filePath should fail")
	}
}

func TestRetryable(t *testing.T) {
	if !retryable(fmt.Errorf("cancelled")) {
		t.Error("unclassified errors should be retried")
	}
	if retryable(errors.NewProcessingTimeoutError("j", time.Minute, nil)) {
		t.Error("timeouts should not be retried")
	}
	if !retryable(errors.NewStorageFailedError("j", nil)) {
		t.Error("storage failures should be retried")
	}
}

func TestEvents(t *testing.T) {
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	ev := pageEvent("j", 5, processor.PageReport{Page: 3, Status: processor.PageOK, Records: 12}, now)
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatal(err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded["event"] != "job:page" || decoded["totalPages"] != float64(5) {
		t.Errorf("page event = %s", data)
	}
	page := decoded["page"].(map[string]interface{})
	if page["status"] != "ok" || page["records"] != float64(12) {
		t.Errorf("page payload = %v", page)
	}

	st := statusEvent("j", storage.StatusFailed, nil, now)
	if st.Event != "job:failed" || st.Timestamp != "2024-01-02T03:04:05Z" {
		t.Errorf("status event = %+v", st)
	}
}

// TestPublisherRoundTrip needs a disposable Redis in TEST_REDIS_URL.
func TestPublisherRoundTrip(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	queue := fmt.Sprintf("voterroll:test:%d", time.Now().UnixNano())

	p, err := NewPublisher(url, queue)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	defer p.Close()

	sub := p.client.Subscribe(ctx, p.Channel())
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p.PublishStatus(ctx, "j1", storage.StatusProcessing, nil)
	p.PublishStatus(ctx, "j1", storage.StatusCompleted, map[string]interface{}{"records": 3})

	msgCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(msgCtx)
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}
	var ev Event
	if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil || ev.Event != "job:processing" {
		t.Errorf("first event = %s (%v)", msg.Payload, err)
	}

	stats, err := p.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats() error = %v", err)
	}
	if stats[storage.StatusProcessing] != 0 || stats[storage.StatusCompleted] != 1 {
		t.Errorf("stats = %v", stats)
	}
	p.client.Del(ctx, p.key("processing"), p.key("completed"), p.key("failed"))
}
