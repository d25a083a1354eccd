package descriptor

import (
	"encoding/json"
	"strings"
)

// Author identifies a package author, contributor or maintainer. Email and
// Web are optional; an empty string means the field is absent.
type Author struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Web   string `json:"web,omitempty"`
}

// ParseAuthor parses a free-form author string into its name, email and web
// segments. The scanner walks the string left to right: "<" opens the email
// segment, "(" opens the web segment, ">" and ")" close whichever segment is
// open. Characters outside any delimiter accumulate into the segment that is
// currently open, starting with the name. Trailing unterminated text belongs
// to the last open segment.
func ParseAuthor(s string) Author {
	var author Author
	field := &author.Name
	var buf strings.Builder
	for _, c := range s {
		switch c {
		case '<', '(':
			if field != nil {
				*field = strings.TrimSpace(buf.String())
			}
			buf.Reset()
			if c == '<' {
				field = &author.Email
			} else {
				field = &author.Web
			}
		case '>', ')':
			if field != nil {
				*field = strings.TrimSpace(buf.String())
			}
			buf.Reset()
			field = nil
		default:
			if field != nil {
				buf.WriteRune(c)
			}
		}
	}
	if buf.Len() > 0 && field != nil {
		*field = buf.String()
	}
	return author
}

// UnmarshalJSON accepts either a free-form author string, which is run
// through ParseAuthor, or a structured object with name/email/web fields.
func (a *Author) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = ParseAuthor(s)
		return nil
	}
	type plain Author
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = Author(p)
	return nil
}
