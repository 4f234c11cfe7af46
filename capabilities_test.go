package pmcp

import "testing"

func TestNegotiateVersionExactMatch(t *testing.T) {
	v, ok := NegotiateVersion("2025-03-26", SupportedVersions)
	if !ok || v != "2025-03-26" {
		t.Fatalf("got (%v, %v), want (2025-03-26, true)", v, ok)
	}
}

func TestNegotiateVersionFallsBackToOlder(t *testing.T) {
	// A client asking for something newer than anything we support should
	// fall back to our newest version, not fail.
	v, ok := NegotiateVersion("2099-01-01", SupportedVersions)
	if !ok {
		t.Fatalf("expected negotiation to succeed by falling back")
	}
	if v != SupportedVersions[0] {
		t.Errorf("got %v, want newest supported version %v", v, SupportedVersions[0])
	}
}

func TestNegotiateVersionNoMutualVersion(t *testing.T) {
	_, ok := NegotiateVersion("1999-01-01", SupportedVersions)
	if ok {
		t.Fatalf("expected negotiation to fail for a version older than anything supported")
	}
}

func TestCheckCapabilityGatesOnAdvertisedFeature(t *testing.T) {
	noCaps := &ServerCapabilities{}
	withTools := &ServerCapabilities{Tools: &ListChangedCapability{}}

	if checkCapability("tools/call", noCaps, nil) {
		t.Errorf("tools/call must be gated when Tools capability is absent")
	}
	if !checkCapability("tools/call", withTools, nil) {
		t.Errorf("tools/call must be permitted once Tools capability is present")
	}
}

func TestCheckCapabilitySubscribeIsGatedSeparately(t *testing.T) {
	listOnly := &ServerCapabilities{Resources: &ResourceCapability{ListChanged: true}}
	if checkCapability("resources/subscribe", listOnly, nil) {
		t.Errorf("resources/subscribe must require Subscribe, not just Resources")
	}
	withSubscribe := &ServerCapabilities{Resources: &ResourceCapability{Subscribe: true}}
	if !checkCapability("resources/subscribe", withSubscribe, nil) {
		t.Errorf("resources/subscribe must be permitted once Subscribe is advertised")
	}
}

func TestCheckCapabilityOnClientSide(t *testing.T) {
	if checkCapability("sampling/createMessage", nil, &ClientCapabilities{}) {
		t.Errorf("sampling must be gated on the client's advertised capability")
	}
	cc := &ClientCapabilities{Sampling: map[string]any{}}
	if !checkCapability("sampling/createMessage", nil, cc) {
		t.Errorf("sampling must be permitted once advertised by the client")
	}
}

func TestCheckCapabilityUngatedMethodAlwaysPermitted(t *testing.T) {
	if !checkCapability("initialize", nil, nil) {
		t.Errorf("initialize names no gated feature and must always be permitted")
	}
}
