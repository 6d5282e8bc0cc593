package axon

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/USA-RedDragon/axon/internal/axonerr"
	"github.com/USA-RedDragon/axon/internal/wire"
)

// SubscribeFunc handles one matched inbound message. topic is the
// decoded routing token with the "message::[namespace::]" prefix
// already stripped (spec section 4.4). The return value is used only by
// REP endpoints, which write it back as the reply frame; SUB endpoints
// ignore it. Build the return value with Reply.
type SubscribeFunc func(ctx context.Context, topic string, fields wire.Message) wire.Message

// Reply constructs the frame a REP subscription returns to answer a
// call (spec section 4.5's "reply(count, fields…)" operation).
func Reply(fields ...wire.Field) wire.Message {
	return wire.Message(fields)
}

// subscription is a (pattern, compiled regex, callback, user-context)
// tuple, uniqued by pattern (spec section 3: "re-subscribing replaces
// the callback"). The regex is compiled once and cached per the design
// note in spec section 9.
type subscription struct {
	pattern string
	re      *regexp.Regexp
	fn      SubscribeFunc
	ctx     context.Context
}

// subscriptionList is an ordered sequence, unique by pattern, safe for
// concurrent use. Order is preserved across replacement so iteration is
// stable for callers that rely on registration order.
type subscriptionList struct {
	mu    sync.Mutex
	order []string
	byKey map[string]*subscription
}

func newSubscriptionList() *subscriptionList {
	return &subscriptionList{byKey: make(map[string]*subscription)}
}

func (l *subscriptionList) put(pattern string, fn SubscribeFunc, ctx context.Context) error {
	re, err := regexp.CompilePOSIX(pattern)
	if err != nil {
		return axonerr.New(axonerr.InvalidArgument, "Subscribe", fmt.Errorf("compile pattern %q: %w", pattern, err))
	}
	if ctx == nil {
		ctx = context.Background()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.byKey[pattern]; !exists {
		l.order = append(l.order, pattern)
	}
	l.byKey[pattern] = &subscription{pattern: pattern, re: re, fn: fn, ctx: ctx}
	return nil
}

func (l *subscriptionList) remove(pattern string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.byKey[pattern]; !ok {
		return
	}
	delete(l.byKey, pattern)
	for i, p := range l.order {
		if p == pattern {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// dispatch invokes every subscription whose pattern matches topic, in
// registration order, without holding the list lock during the user
// callback (spec section 5: "releases internal locks before invoking
// user callbacks").
func (l *subscriptionList) dispatch(topic string, fields wire.Message) {
	l.mu.Lock()
	matched := make([]*subscription, 0, len(l.order))
	for _, p := range l.order {
		sub := l.byKey[p]
		if sub.re.MatchString(topic) {
			matched = append(matched, sub)
		}
	}
	l.mu.Unlock()

	for _, sub := range matched {
		sub.fn(sub.ctx, topic, fields)
	}
}

// dispatchReply invokes the first subscription matching topic and
// returns its reply frame, used by REP (spec section 4.4: "dispatch to
// the subscription whose pattern matches type").
func (l *subscriptionList) dispatchReply(topic string, fields wire.Message) (wire.Message, bool) {
	fn, ctx, ok := l.findByTopic(topic)
	if !ok {
		return nil, false
	}
	return fn(ctx, topic, fields), true
}

// findByTopic returns the single subscription whose pattern matches
// topic, used by REP to route an inbound {"type": topic} call (spec
// section 4.4). The first match in registration order wins.
func (l *subscriptionList) findByTopic(topic string) (SubscribeFunc, context.Context, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, p := range l.order {
		sub := l.byKey[p]
		if sub.re.MatchString(topic) {
			return sub.fn, sub.ctx, true
		}
	}
	return nil, nil, false
}
