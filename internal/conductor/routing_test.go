package conductor

import "testing"

func TestRoute(t *testing.T) {
	tiers := Tiers{Light: "light", Standard: "standard", Heavy: "heavy"}
	tests := []struct {
		name string
		in   RouteInput
		want string
	}{
		{
			name: "explicit preference wins over everything",
			in:   RouteInput{Preference: "custom", CostPressure: true, Query: "analyze this in depth"},
			want: "custom",
		},
		{
			name: "cost pressure forces light",
			in:   RouteInput{CostPressure: true, Query: "analyze my finances in depth", HasAttachments: true},
			want: "light",
		},
		{
			name: "complexity marker promotes to heavy",
			in:   RouteInput{Query: "Please analyze my spending patterns over the year"},
			want: "heavy",
		},
		{
			name: "short question takes light",
			in:   RouteInput{Query: "What time is it in Tokyo?"},
			want: "light",
		},
		{
			name: "long question is not short",
			in:   RouteInput{Query: "Could you tell me in reasonable detail what the weather is going to be like in Berlin, Hamburg and Munich tomorrow?"},
			want: "standard",
		},
		{
			name: "attachments promote to heavy",
			in:   RouteInput{Query: "summarize this document for me thank you", HasAttachments: true},
			want: "heavy",
		},
		{
			name: "default is standard",
			in:   RouteInput{Query: "tell me something interesting about whales"},
			want: "standard",
		},
		{
			name: "complexity beats short question",
			in:   RouteInput{Query: "Can you debug this?"},
			want: "heavy",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Route(tiers, tt.in); got != tt.want {
				t.Errorf("Route(%+v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
