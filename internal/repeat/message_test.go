package repeat_test

import (
	"testing"

	"github.com/edgard/parrotbot/internal/repeat"
)

func TestMessage_Equal(t *testing.T) {
	t.Parallel()

	imgA := repeat.NewImage("hash-a", "image/jpeg", nil)
	imgB := repeat.NewImage("hash-b", "image/jpeg", nil)

	tests := []struct {
		name     string
		a        repeat.Message
		b        repeat.Message
		expected bool
	}{
		{
			name:     "Identical text",
			a:        repeat.Message{Canonical: "hello"},
			b:        repeat.Message{Canonical: "hello"},
			expected: true,
		},
		{
			name:     "Different text",
			a:        repeat.Message{Canonical: "hello"},
			b:        repeat.Message{Canonical: "hello!"},
			expected: false,
		},
		{
			name:     "Same image same caption",
			a:        repeat.Message{Canonical: "hi" + repeat.ImagePlaceholder, Images: []repeat.Image{imgA}},
			b:        repeat.Message{Canonical: "hi" + repeat.ImagePlaceholder, Images: []repeat.Image{imgA}},
			expected: true,
		},
		{
			name:     "Different image same caption",
			a:        repeat.Message{Canonical: "hi" + repeat.ImagePlaceholder, Images: []repeat.Image{imgA}},
			b:        repeat.Message{Canonical: "hi" + repeat.ImagePlaceholder, Images: []repeat.Image{imgB}},
			expected: false,
		},
		{
			name:     "Image count mismatch",
			a:        repeat.Message{Canonical: repeat.ImagePlaceholder, Images: []repeat.Image{imgA}},
			b:        repeat.Message{Canonical: repeat.ImagePlaceholder},
			expected: false,
		},
		{
			name:     "Failed image on one side",
			a:        repeat.Message{Canonical: repeat.ImagePlaceholder, Images: []repeat.Image{imgA}},
			b:        repeat.Message{Canonical: repeat.ImagePlaceholder, Images: []repeat.Image{repeat.FailedImage()}},
			expected: false,
		},
		{
			name:     "Failed images on both sides",
			a:        repeat.Message{Canonical: repeat.ImagePlaceholder, Images: []repeat.Image{repeat.FailedImage()}},
			b:        repeat.Message{Canonical: repeat.ImagePlaceholder, Images: []repeat.Image{repeat.FailedImage()}},
			expected: false,
		},
		{
			name:     "Both empty",
			a:        repeat.Message{},
			b:        repeat.Message{},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.a.Equal(tt.b); got != tt.expected {
				t.Errorf("Equal() = %v, want %v", got, tt.expected)
			}
			// Equality is symmetric.
			if got := tt.b.Equal(tt.a); got != tt.expected {
				t.Errorf("Equal() reversed = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestMessage_IsEmpty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		msg      repeat.Message
		expected bool
	}{
		{
			name:     "Empty message",
			msg:      repeat.Message{},
			expected: true,
		},
		{
			name:     "Whitespace only",
			msg:      repeat.Message{Canonical: "   \n\t"},
			expected: true,
		},
		{
			name:     "Text",
			msg:      repeat.Message{Canonical: "hi"},
			expected: false,
		},
		{
			name: "Image only",
			msg: repeat.Message{
				Canonical: repeat.ImagePlaceholder,
				Images:    []repeat.Image{repeat.NewImage("hash", "image/png", nil)},
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := tt.msg.IsEmpty(); got != tt.expected {
				t.Errorf("IsEmpty() = %v, want %v", got, tt.expected)
			}
		})
	}
}
