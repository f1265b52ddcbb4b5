package generator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/onnwee/s4u-chat/backend/s4u"
	"github.com/onnwee/s4u-chat/backend/testutil"
)

func TestCoalescer(t *testing.T) {
	tests := []struct {
		name   string
		min    int
		deltas []string
		want   []string
	}{
		{"joins tokens into sentences", 5, []string{"Hel", "lo there", ". How", " are", " you?"}, []string{"Hello there.", "How are you?"}},
		{"short sentence waits for more", 10, []string{"Hi. ", "Nice to see you!"}, []string{"Hi. Nice to see you!"}},
		{"tail flushed on finalize", 3, []string{"no boundary here"}, []string{"no boundary here"}},
		{"cjk punctuation", 2, []string{"你好。", "再见！"}, []string{"你好。", "再见！"}},
		{"blank deltas ignored", 1, []string{"", "  ", ""}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCoalescer(tt.min)
			var got []string
			for _, d := range tt.deltas {
				got = append(got, c.consume(d)...)
			}
			got = append(got, c.finalize()...)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Fatalf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func drain(t *testing.T, st s4u.Stream) []string {
	t.Helper()
	defer st.Close()
	var out []string
	for {
		c, err := st.Recv()
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("recv: %v", err)
		}
		out = append(out, c)
	}
}

func TestEcho(t *testing.T) {
	st, err := Echo{}.Generate(context.Background(), s4u.Request{Message: s4u.QueuedMessage{SenderName: "bob", Text: "hi. how are you?"}})
	if err != nil {
		t.Fatal(err)
	}
	got := drain(t, st)
	if len(got) != 2 || got[0] != "@bob hi." || got[1] != "how are you?" {
		t.Fatalf("chunks = %q", got)
	}
}

func TestOpenAI_StreamsCoalescedChunks(t *testing.T) {
	srv := testutil.NewMockCompletionServer(t)
	srv.MockStream("Thanks", " for the", " rose! ", "Love", " it.")

	g := NewOpenAI("test-key", srv.URL, "test-model", "be brief")
	st, err := g.Generate(context.Background(), s4u.Request{Message: s4u.QueuedMessage{SenderID: "u1", SenderName: "alice", Text: "alice sent rose x5"}})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	got := drain(t, st)
	if len(got) != 2 || got[0] != "Thanks for the rose!" || got[1] != "Love it." {
		t.Fatalf("chunks = %q", got)
	}

	reqs := srv.Requests()
	if len(reqs) != 1 {
		t.Fatalf("requests = %d", len(reqs))
	}
	if reqs[0]["model"] != "test-model" || reqs[0]["stream"] != true {
		t.Fatalf("request = %v", reqs[0])
	}
	msgs, _ := reqs[0]["messages"].([]any)
	if len(msgs) != 2 {
		t.Fatalf("messages = %v", msgs)
	}
	sys, _ := msgs[0].(map[string]any)
	user, _ := msgs[1].(map[string]any)
	if sys["role"] != "system" || !strings.Contains(fmt.Sprint(user["content"]), "rose x5") {
		t.Fatalf("messages = %v", msgs)
	}
}

func TestOpenAI_HTTPErrorSurfaces(t *testing.T) {
	srv := testutil.NewMockCompletionServer(t)
	srv.MockError(http.StatusInternalServerError, "overloaded")

	g := NewOpenAI("k", srv.URL, "", "")
	if _, err := g.Generate(context.Background(), s4u.Request{Message: s4u.QueuedMessage{Text: "hi"}}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNameField(t *testing.T) {
	if got := nameField("user 42!é"); got != "user42" {
		t.Fatalf("got %q", got)
	}
}
