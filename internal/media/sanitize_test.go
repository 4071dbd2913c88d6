package media

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"vietnamese kept", "Đề thi thử THPT 2024", "Đề thi thử THPT 2024"},
		{"reserved characters", `a<b>c:d"e/f\g|h?i*j`, "a_b_c_d_e_f_g_h_i_j"},
		{"whitespace collapsed", "  Bài\t1 \n  Mở đầu  ", "Bài 1 Mở đầu"},
		{"control characters dropped", "a\x00b\x1fc", "abc"},
		{"trailing dots", "Chương 1...", "Chương 1"},
		{"reserved device name", "con", "_con"},
		{"reserved with extension", "NUL.txt", "_NUL.txt"},
		{"empty", "", "untitled"},
		{"only dots", "...", "untitled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizePath(tt.in))
		})
	}
}

func TestSanitizePath_Truncates(t *testing.T) {
	long := strings.Repeat("đ", 150) // 2 bytes each
	got := SanitizePath(long)
	assert.LessOrEqual(t, len(got), maxNameBytes)
	assert.True(t, utf8.ValidString(got))
}
