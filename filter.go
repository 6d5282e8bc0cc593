package axon

import "regexp"

// serverAxonType returns the axon_type a client role of r is compatible
// with: pub<->sub, req<->rep (spec section 4.4).
func serverAxonType(r Role) string {
	switch r {
	case RoleSub:
		return "pub-emitter"
	case RoleReq:
		return "rep"
	default:
		return ""
	}
}

// topicOverlap reports whether any entry of patterns and any entry of
// candidates match each other under POSIX extended regex, tried in both
// directions: our pattern against its topic, and its topic used as a
// pattern against ours. An empty pattern list means "match any" (spec
// section 4.4).
func topicOverlap(patterns, candidates []string) bool {
	if len(patterns) == 0 {
		return true
	}
	for _, p := range patterns {
		re, err := regexp.CompilePOSIX(p)
		for _, c := range candidates {
			if err == nil && re.MatchString(c) {
				return true
			}
			if cre, cerr := regexp.CompilePOSIX(c); cerr == nil && cre.MatchString(p) {
				return true
			}
		}
	}
	return false
}

// matchesAdvertisement implements the discovery filter of spec section
// 4.4: a remote node is a connection candidate iff its advertisement is
// present, its key and namespace match ours, its axon_type is the
// complement of our role, and at least one of our client-side topics and
// one of its server-side topics match each other (see topicOverlap).
func (e *Endpoint) matchesAdvertisement(adv map[string]any) bool {
	if adv == nil {
		return false
	}

	e.mu.Lock()
	key, namespace, role := e.key, e.namespace, e.role
	var localPatterns []string
	switch role {
	case RoleSub:
		localPatterns = append([]string(nil), e.subscribesTo...)
	case RoleReq:
		localPatterns = append([]string(nil), e.requests...)
	}
	e.mu.Unlock()

	if s, _ := adv["key"].(string); s != key {
		return false
	}
	ns, hasNS := adv["namespace"].(string)
	switch {
	case namespace == "" && hasNS && ns != "":
		return false
	case namespace != "" && (!hasNS || ns != namespace):
		return false
	}
	wantType := serverAxonType(role)
	if got, _ := adv["axon_type"].(string); got != wantType {
		return false
	}

	var remoteKey string
	switch role {
	case RoleSub:
		remoteKey = "broadcasts"
	case RoleReq:
		remoteKey = "respondsTo"
	default:
		return false
	}

	remoteTopics, _ := adv[remoteKey].([]string)
	if remoteTopics == nil {
		remoteTopics = toStringSlice(adv[remoteKey])
	}
	return topicOverlap(localPatterns, remoteTopics)
}

func toStringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
