package s4u

import (
	"context"
	"errors"
	"testing"
)

func TestFanout(t *testing.T) {
	var a, b []string
	ok := func(dst *[]string) Transport {
		return TransportFunc(func(_ context.Context, _, chunk string) error {
			*dst = append(*dst, chunk)
			return nil
		})
	}
	fail := TransportFunc(func(context.Context, string, string) error { return errors.New("down") })

	if err := Fanout(ok(&a), fail, ok(&b)).Send(context.Background(), "room", "hi"); err != nil {
		t.Fatalf("partial failure reported: %v", err)
	}
	if len(a) != 1 || len(b) != 1 {
		t.Fatalf("a=%v b=%v", a, b)
	}
	if err := Fanout(fail, fail).Send(context.Background(), "room", "hi"); err == nil {
		t.Fatalf("total failure not reported")
	}
	if err := Fanout().Send(context.Background(), "room", "hi"); err != nil {
		t.Fatalf("empty fanout: %v", err)
	}
}
