package forward

import (
	"reflect"
	"testing"
)

func TestDecodeLiteral(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want any
	}{
		{
			name: "json object",
			in:   `{"error": "quota"}`,
			want: map[string]any{"error": "quota"},
		},
		{
			name: "python dict single quotes",
			in:   `{'error': 'rate limited'}`,
			want: map[string]any{"error": "rate limited"},
		},
		{
			name: "python nested",
			in:   `{'detail': {'code': 42, 'flags': [True, False, None]}}`,
			want: map[string]any{"detail": map[string]any{
				"code":  float64(42),
				"flags": []any{true, false, nil},
			}},
		},
		{
			name: "python string with apostrophe escape",
			in:   `{'msg': 'can\'t do that'}`,
			want: map[string]any{"msg": "can't do that"},
		},
		{
			name: "bare json string keeps original text",
			in:   `"already quoted"`,
			want: `"already quoted"`,
		},
		{
			name: "plain text falls back to raw",
			in:   "service exploded",
			want: "service exploded",
		},
		{
			name: "unbalanced python falls back to raw",
			in:   "{'oops': ",
			want: "{'oops': ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := decodeLiteral(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("decodeLiteral(%q) = %#v, want %#v", tt.in, got, tt.want)
			}
		})
	}
}
