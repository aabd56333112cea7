// Package codec maps typed application values to wire bytes and back,
// keyed by a content-type tag carried on the message envelope.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"

	"github.com/gabriel-vasile/mimetype"
)

// Content-type tags understood by the toolkit.
const (
	JSON        = "application/json"
	Text        = "text/string"
	Number      = "text/number"
	OctetStream = "application/octet-stream"
)

// Encode serializes v and infers its content-type tag from the value's
// runtime type. An explicit tag overrides the inferred one on the wire,
// but the encoding itself is still selected by the value's type; callers
// declaring a mismatched tag own the decode behavior on the other end.
func Encode(v any, explicit string) ([]byte, string, error) {
	body, inferred, err := encode(v)
	if err != nil {
		return nil, "", err
	}
	if explicit != "" {
		return body, explicit, nil
	}
	return body, inferred, nil
}

func encode(v any) ([]byte, string, error) {
	switch val := v.(type) {
	case nil:
		return nil, OctetStream, nil
	case []byte:
		return val, OctetStream, nil
	case string:
		return []byte(val), Text, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return []byte(strconv.FormatInt(rv.Int(), 10)), Number, nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return []byte(strconv.FormatUint(rv.Uint(), 10)), Number, nil
	case reflect.Float32, reflect.Float64:
		bits := 64
		if rv.Kind() == reflect.Float32 {
			bits = 32
		}
		return []byte(strconv.FormatFloat(rv.Float(), 'g', -1, bits)), Number, nil
	}

	body, err := json.Marshal(v)
	if err != nil {
		return nil, "", fmt.Errorf("codec: encode %T: %w", v, err)
	}
	return body, JSON, nil
}

// Decode maps wire bytes back to a typed value using the content-type tag.
// Unknown or empty tags pass the bytes through unchanged. On failure the
// raw bytes are returned alongside the error so handlers can still see the
// message; decode errors are never meant to cross the transport boundary.
func Decode(body []byte, contentType string) (any, error) {
	switch contentType {
	case JSON:
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			return body, fmt.Errorf("codec: decode json: %w", err)
		}
		return v, nil
	case Text:
		return string(body), nil
	case Number:
		n, err := strconv.ParseFloat(string(body), 64)
		if err != nil {
			return body, fmt.Errorf("codec: decode number: %w", err)
		}
		return n, nil
	default:
		return body, nil
	}
}

// Detect sniffs a content-type from raw bytes. It is only consulted when a
// publisher opts in to sniffing; the default contract keeps raw bytes as
// application/octet-stream.
func Detect(body []byte) string {
	return mimetype.Detect(body).String()
}
