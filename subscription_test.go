package pmcp

import "testing"

func TestSubscriptionsSubscribeUnsubscribe(t *testing.T) {
	s := newSubscriptions()
	if s.isSubscribed("demo://status") {
		t.Fatalf("must not be subscribed before subscribe is called")
	}
	s.subscribe("demo://status", "client-1")
	if !s.isSubscribed("demo://status") {
		t.Errorf("must be subscribed after subscribe")
	}
	if len(s.list()) != 1 {
		t.Errorf("list must contain exactly one subscription")
	}
	if !s.unsubscribe("demo://status") {
		t.Errorf("unsubscribe must report the subscription existed")
	}
	if s.unsubscribe("demo://status") {
		t.Errorf("a second unsubscribe must report false")
	}
	if s.isSubscribed("demo://status") {
		t.Errorf("must not be subscribed after unsubscribe")
	}
}

func TestSubscriptionsClear(t *testing.T) {
	s := newSubscriptions()
	s.subscribe("demo://a", "c1")
	s.subscribe("demo://b", "c1")
	s.clear()
	if len(s.list()) != 0 {
		t.Errorf("clear must drop every subscription")
	}
}
