package dispatch

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gafferhq/gaffer/pkg/capability"
	"github.com/gafferhq/gaffer/pkg/errors"
	"github.com/gafferhq/gaffer/pkg/intent"
	"github.com/gafferhq/gaffer/pkg/role"
)

func testCoordinator(t *testing.T, caps []capability.Capability, roles map[string][]string, opts ...Option) *Coordinator {
	t.Helper()
	registry, err := capability.Discover(caps...)
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	resolver, err := role.Resolve(role.DeclarationsFromConfig(roles), registry)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	return New(registry, resolver, opts...)
}

func echoCap(name string) capability.Capability {
	return capability.MustNew(capability.Spec{
		Name:        name,
		Description: name,
		Handler: func(ctx context.Context, params map[string]string) (any, error) {
			return "ran " + name, nil
		},
	})
}

func knownIntent(t *testing.T, kind intent.Kind, params map[string]string) *intent.Intent {
	t.Helper()
	in, err := intent.New(kind, params, 1, intent.ProvenanceFallback)
	if err != nil {
		t.Fatalf("intent: %v", err)
	}
	return in
}

func TestDispatchInvokesEntitledCapability(t *testing.T) {
	c := testCoordinator(t,
		[]capability.Capability{echoCap("list_matches")},
		map[string][]string{"manager": {"list_matches"}},
	)

	resp, err := c.Dispatch(context.Background(), Request{
		Role:   "manager",
		Intent: knownIntent(t, intent.KindListMatches, nil),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Status != StatusOK {
		t.Fatalf("status = %s, want ok (%s)", resp.Status, resp.Message)
	}
	if resp.Message != "ran list_matches" {
		t.Fatalf("message = %q", resp.Message)
	}
}

func TestDispatchUnknownIntentAsksForClarification(t *testing.T) {
	c := testCoordinator(t,
		[]capability.Capability{echoCap("list_matches"), echoCap("help")},
		map[string][]string{"player": {"help", "list_matches"}},
	)

	resp, err := c.Dispatch(context.Background(), Request{
		Role:   "player",
		Intent: intent.Unknown(intent.ProvenanceFallback),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Status != StatusClarify {
		t.Fatalf("status = %s, want clarify", resp.Status)
	}
	if !strings.Contains(resp.Message, "help") || !strings.Contains(resp.Message, "list_matches") {
		t.Fatalf("clarify message must list available capabilities, got %q", resp.Message)
	}
}

func TestDispatchForbiddenWithoutInvocation(t *testing.T) {
	invoked := false
	guarded := capability.MustNew(capability.Spec{
		Name:        "create_match",
		Description: "create a match",
		SideEffect:  capability.SideEffectWrite,
		Handler: func(ctx context.Context, params map[string]string) (any, error) {
			invoked = true
			return nil, nil
		},
	})
	c := testCoordinator(t,
		[]capability.Capability{guarded, echoCap("help")},
		map[string][]string{
			"manager": {"create_match", "help"},
			"player":  {"help"},
		},
	)

	resp, err := c.Dispatch(context.Background(), Request{
		Role:   "player",
		Intent: knownIntent(t, intent.KindCreateMatch, map[string]string{"opponent": "Rovers"}),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Status != StatusForbidden {
		t.Fatalf("status = %s, want forbidden", resp.Status)
	}
	if invoked {
		t.Fatal("capability must not run for an unentitled role")
	}
	if !strings.Contains(resp.Message, "player") || !strings.Contains(resp.Message, "create_match") {
		t.Fatalf("forbidden message should name role and capability, got %q", resp.Message)
	}
}

func TestDispatchUnconfiguredRole(t *testing.T) {
	c := testCoordinator(t,
		[]capability.Capability{echoCap("help")},
		map[string][]string{"manager": {"help"}},
	)

	resp, err := c.Dispatch(context.Background(), Request{
		Role:   "physio",
		Intent: knownIntent(t, intent.KindHelp, nil),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Status != StatusForbidden {
		t.Fatalf("status = %s, want forbidden", resp.Status)
	}
}

func TestDispatchValidationFailurePassesGuidance(t *testing.T) {
	needy := capability.MustNew(capability.Spec{
		Name:        "create_match",
		Description: "create a match",
		Params: []capability.Param{
			{Name: "opponent", Required: true},
			{Name: "date", Required: true},
		},
		Handler: func(ctx context.Context, params map[string]string) (any, error) {
			return nil, nil
		},
	})
	c := testCoordinator(t,
		[]capability.Capability{needy},
		map[string][]string{"manager": {"create_match"}},
	)

	resp, err := c.Dispatch(context.Background(), Request{
		Role:   "manager",
		Intent: knownIntent(t, intent.KindCreateMatch, map[string]string{"opponent": "Rovers"}),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Status != StatusInvalid {
		t.Fatalf("status = %s, want invalid", resp.Status)
	}
	if !strings.Contains(resp.Message, "date") {
		t.Fatalf("guidance should name the missing parameter, got %q", resp.Message)
	}
}

func TestDispatchTimeout(t *testing.T) {
	slow := capability.MustNew(capability.Spec{
		Name:        "send_message",
		Description: "send a message",
		Handler: func(ctx context.Context, params map[string]string) (any, error) {
			select {
			case <-time.After(2 * time.Second):
				return "sent", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	c := testCoordinator(t,
		[]capability.Capability{slow},
		map[string][]string{"manager": {"send_message"}},
		WithTimeout(20*time.Millisecond),
	)

	start := time.Now()
	resp, err := c.Dispatch(context.Background(), Request{
		Role:   "manager",
		Intent: knownIntent(t, intent.KindSendMessage, map[string]string{"message": "hi"}),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Status != StatusTimedOut {
		t.Fatalf("status = %s, want timed_out", resp.Status)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout response took %v", elapsed)
	}
	if !strings.Contains(resp.Message, "try again") {
		t.Fatalf("timeout message should suggest a retry, got %q", resp.Message)
	}
}

func TestDispatchInternalFailureHidesDetail(t *testing.T) {
	broken := capability.MustNew(capability.Spec{
		Name:        "list_matches",
		Description: "list matches",
		Handler: func(ctx context.Context, params map[string]string) (any, error) {
			return nil, fmt.Errorf("store unreachable at 10.0.0.7:5432")
		},
	})
	c := testCoordinator(t,
		[]capability.Capability{broken},
		map[string][]string{"manager": {"list_matches"}},
	)

	resp, err := c.Dispatch(context.Background(), Request{
		Role:   "manager",
		Intent: knownIntent(t, intent.KindListMatches, nil),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Status != StatusError {
		t.Fatalf("status = %s, want error", resp.Status)
	}
	if resp.CorrelationID == "" {
		t.Fatal("error response must carry a correlation id")
	}
	if strings.Contains(resp.Message, "10.0.0.7") {
		t.Fatalf("internal detail leaked to requester: %q", resp.Message)
	}
	if !strings.Contains(resp.Message, resp.CorrelationID) {
		t.Fatalf("message should reference the correlation id, got %q", resp.Message)
	}
}

func TestDispatchIdentifierExhaustion(t *testing.T) {
	exhausted := capability.MustNew(capability.Spec{
		Name:        "create_match",
		Description: "create a match",
		Handler: func(ctx context.Context, params map[string]string) (any, error) {
			return nil, errors.New(errors.CodeIdentifierExhausted, "no free identifier", nil).
				WithRecoverable(true)
		},
	})
	c := testCoordinator(t,
		[]capability.Capability{exhausted},
		map[string][]string{"manager": {"create_match"}},
	)

	resp, err := c.Dispatch(context.Background(), Request{
		Role:   "manager",
		Intent: knownIntent(t, intent.KindCreateMatch, map[string]string{"opponent": "Rovers"}),
	})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if resp.Status != StatusError {
		t.Fatalf("status = %s, want error", resp.Status)
	}
	if !strings.Contains(resp.Message, "try again") {
		t.Fatalf("message should tell the requester to retry, got %q", resp.Message)
	}
}

func TestDispatchNilIntent(t *testing.T) {
	c := testCoordinator(t,
		[]capability.Capability{echoCap("help")},
		map[string][]string{"manager": {"help"}},
	)
	_, err := c.Dispatch(context.Background(), Request{Role: "manager"})
	if !errors.IsCode(err, errors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT, got %v", err)
	}
}

func TestDispatchSerializesConversations(t *testing.T) {
	var mu sync.Mutex
	var active, maxActive int

	tracker := capability.MustNew(capability.Spec{
		Name:        "send_message",
		Description: "send a message",
		Handler: func(ctx context.Context, params map[string]string) (any, error) {
			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()
			time.Sleep(5 * time.Millisecond)
			mu.Lock()
			active--
			mu.Unlock()
			return "sent", nil
		},
	})
	c := testCoordinator(t,
		[]capability.Capability{tracker},
		map[string][]string{"manager": {"send_message"}},
	)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, err := c.Dispatch(context.Background(), Request{
				Role:         "manager",
				Conversation: "match-thread",
				Intent:       knownIntent(t, intent.KindSendMessage, map[string]string{"message": "hi"}),
			})
			if err != nil || resp.Status != StatusOK {
				t.Errorf("dispatch: status=%v err=%v", resp, err)
			}
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("dispatches in one conversation overlapped: max concurrency %d", maxActive)
	}

	c.mu.Lock()
	remaining := len(c.locks)
	c.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected idle conversation locks to be evicted, %d remain", remaining)
	}
}

func TestConversationLocksEvictedAcrossIds(t *testing.T) {
	c := testCoordinator(t,
		[]capability.Capability{echoCap("send_message")},
		map[string][]string{"manager": {"send_message"}},
	)

	for _, conv := range []string{"thread-a", "thread-b", "thread-c"} {
		resp, err := c.Dispatch(context.Background(), Request{
			Role:         "manager",
			Conversation: conv,
			Intent:       knownIntent(t, intent.KindSendMessage, map[string]string{"message": "hi"}),
		})
		if err != nil || resp.Status != StatusOK {
			t.Fatalf("dispatch %s: status=%v err=%v", conv, resp, err)
		}
	}

	c.mu.Lock()
	remaining := len(c.locks)
	c.mu.Unlock()
	if remaining != 0 {
		t.Fatalf("expected no retained locks after dispatches finished, got %d", remaining)
	}
}

func TestDispatchDistinctConversationsRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 2)

	blocker := capability.MustNew(capability.Spec{
		Name:        "send_message",
		Description: "send a message",
		Handler: func(ctx context.Context, params map[string]string) (any, error) {
			started <- struct{}{}
			select {
			case <-release:
				return "sent", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})
	c := testCoordinator(t,
		[]capability.Capability{blocker},
		map[string][]string{"manager": {"send_message"}},
	)

	var wg sync.WaitGroup
	for _, conv := range []string{"thread-a", "thread-b"} {
		wg.Add(1)
		go func(conv string) {
			defer wg.Done()
			_, _ = c.Dispatch(context.Background(), Request{
				Role:         "manager",
				Conversation: conv,
				Intent:       knownIntent(t, intent.KindSendMessage, map[string]string{"message": "hi"}),
			})
		}(conv)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(time.Second):
			t.Fatal("second conversation blocked behind the first")
		}
	}
	close(release)
	wg.Wait()
}
