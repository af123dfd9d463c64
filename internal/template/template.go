package template

import (
	"strings"

	"github.com/astronote/astronote-backend/internal/model"
)

// Render replaces {placeholder} tokens in a message template with contact
// fields. Unknown placeholders are left alone; empty fields render as "".
func Render(text string, c *model.Contact) string {
	data := map[string]string{
		"first_name": c.FirstName,
		"last_name":  c.LastName,
		"phone":      c.Phone,
	}
	result := text
	for k, v := range data {
		result = strings.ReplaceAll(result, "{"+k+"}", v)
	}
	return result
}
