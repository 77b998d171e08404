package history

import (
	"context"
	"os"
	"testing"
)

func TestPostgresSink(t *testing.T) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	sink, err := NewPostgresSink(ctx, url)
	if err != nil {
		t.Fatalf("NewPostgresSink() error = %v", err)
	}
	t.Cleanup(func() {
		_, _ = sink.pool.Exec(context.Background(), `DELETE FROM conversation_turns WHERE user_id = 'u1'`)
		_ = sink.Close()
	})
	_, _ = sink.pool.Exec(ctx, `DELETE FROM conversation_turns WHERE user_id = 'u1'`)
	testSinkRoundTrip(t, sink)
}
