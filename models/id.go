package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/speps/go-hashids/v2"
)

// ID is an internal bigserial key that marshals to an opaque hash in API
// responses, so catalog and transaction row counts are not guessable from
// the public surface.
type ID int64

var (
	hd     = hashids.NewData()
	dbHash *hashids.HashID
)

func init() {
	hd.Salt = "everify"
	hd.MinLength = 32
	dbHash, _ = hashids.NewWithData(hd)
}

// SetIDSalt rebinds the hashing salt. Called once at server start with the
// configured signing key.
func SetIDSalt(salt string) error {
	hd.Salt = salt
	h, err := hashids.NewWithData(hd)
	if err != nil {
		return err
	}
	dbHash = h
	return nil
}

// MarshalJSON implements the encoding json interface.
func (id ID) MarshalJSON() ([]byte, error) {
	if id == 0 {
		return json.Marshal(nil)
	}
	result, err := dbHash.EncodeInt64([]int64{int64(id)})
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// UnmarshalJSON implements the encoding json interface.
func (id *ID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*id = 0
		return nil
	}
	result, err := dbHash.DecodeInt64WithError(s)
	if err != nil {
		return err
	}
	if len(result) == 0 {
		return errors.New("invalid ID")
	}
	*id = ID(result[0])
	return nil
}

// Value implements the driver valuer interface.
func (id ID) Value() (driver.Value, error) {
	return int64(id), nil
}

// Scan implements the sql scanner interface.
func (id *ID) Scan(value interface{}) error {
	switch v := value.(type) {
	case int64:
		*id = ID(v)
	case nil:
		*id = 0
	default:
		return fmt.Errorf("unsupported ID scan type %T", value)
	}
	return nil
}
