package pagination

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Page tokens are opaque to clients: a base64url-encoded JSON cursor. Keeping
// the encoding in one place lets the list endpoints hand out tokens without
// knowing how the Firestore layer resumes a query.

// EncodeToken turns a cursor into an opaque page token. An exhausted cursor
// encodes to the empty string so responses can omit nextPageToken.
func EncodeToken(cursor Cursor) (string, error) {
	if len(cursor.StartAfter) == 0 {
		return "", nil
	}
	data, err := json.Marshal(cursor)
	if err != nil {
		return "", fmt.Errorf("pagination: encode token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

// DecodeToken reverses EncodeToken. A blank token yields the zero cursor, any
// token this package did not mint fails with ErrInvalidPageToken.
func DecodeToken(token string) (Cursor, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Cursor{}, nil
	}

	var cursor Cursor
	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err == nil {
		err = json.Unmarshal(decoded, &cursor)
	}
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	return cursor, nil
}
