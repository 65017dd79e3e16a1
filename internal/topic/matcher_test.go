package topic

import "testing"

func TestMatchesLiteral(t *testing.T) {
	cases := []string{"a", "a.b", "a.b.c", "users.123", ""}
	for _, topicStr := range cases {
		if !Matches(topicStr, topicStr) {
			t.Errorf("Matches(%q, %q) = false, want true (idempotence on literals)", topicStr, topicStr)
		}
	}
}

func TestMatchesSingleWildcard(t *testing.T) {
	if !Matches("messages.user.123", "messages.*.123") {
		t.Error("expected * to match a single segment")
	}
	if Matches("messages.user.sub.123", "messages.*.123") {
		t.Error("expected * to not match multiple segments")
	}
	if Matches("messages", "messages.*") {
		t.Error("* requires exactly one segment, none present here")
	}
}

func TestMatchesMultiWildcard(t *testing.T) {
	if !Matches("messages.user.123", "messages.**") {
		t.Error("expected ** to match remaining segments")
	}
	if !Matches("messages", "messages.**") {
		t.Error("expected ** to match zero segments")
	}
	if !Matches("a.b.c", "a.**.c") {
		t.Error("expected ** to match the middle segment(s)")
	}
	if !Matches("a.c", "a.**.c") {
		t.Error("expected ** to match zero segments between anchors")
	}
}

func TestMatchesEmptyTopic(t *testing.T) {
	if !Matches("", "") {
		t.Error("empty topic should match empty pattern")
	}
	if !Matches("", "*") {
		t.Error("empty topic should match bare *")
	}
	if !Matches("", "**") {
		t.Error("empty topic should match bare **")
	}
	if Matches("", "a") {
		t.Error("empty topic should not match a literal pattern")
	}
}

func TestMatchesWildcardAnywhere(t *testing.T) {
	if !Matches("a.b.c", "**") {
		t.Error("** alone should match any topic")
	}
}

func TestMatchesMonotonicity(t *testing.T) {
	// If p1 subsumes p2 (every topic matching p2 also matches p1), then
	// matches(t, p2) => matches(t, p1).
	topics := []string{"a.b.c", "a.b", "a", "", "x.y.z.w"}
	for _, tp := range topics {
		if Matches(tp, "**") != true {
			t.Errorf("matches(%q, **) should always be true", tp)
		}
	}
	if Matches("a.b.c", "a.**") && !Matches("a.b.c", "**") {
		t.Error("a.** subsumed by ** violated")
	}
}

func TestMatchesMultipleDoubleStars(t *testing.T) {
	if !Matches("a.x.b.y.c", "a.**.b.**.c") {
		t.Error("expected multiple ** tokens to be handled via backtracking")
	}
	if !Matches("a.b.c", "a.**.b.**.c") {
		t.Error("expected each ** to be able to match zero segments")
	}
}

func TestMatchesNoMatch(t *testing.T) {
	if Matches("users.123", "messages.**") {
		t.Error("unrelated literal prefix should not match")
	}
	if Matches("a.b", "a.b.c") {
		t.Error("pattern longer than topic with no wildcard should not match")
	}
}
