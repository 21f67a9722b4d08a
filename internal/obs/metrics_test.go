package obs

import "testing"

func TestCanonicalPath(t *testing.T) {
	cases := map[string]string{
		"":                               "/",
		"/metrics":                       "/metrics",
		"/v1/credential":                 "/v1/credential",
		"/v1/ballot":                     "/v1/ballot",
		"/v1/elections/vote-25/results":  "/v1/elections/:id/results",
		"/v1/tally/vote-25":              "/v1/tally/:id",
		"/v1/tally/vote-25?verbose=1":    "/v1/tally/:id",
		"/v1/elections/vote-25/other":    "/v1/elections/vote-25/other",
		"/s2s/register-credential":       "/s2s/register-credential",
		"/s2s/redeemed?election_id=v-25": "/s2s/redeemed",
	}
	for input, expected := range cases {
		if got := CanonicalPath(input); got != expected {
			t.Fatalf("CanonicalPath(%q)=%q, want %q", input, got, expected)
		}
	}
}
