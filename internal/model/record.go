// internal/model/record.go
package model

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Record
// ------------------------------------------------------------
// upstream 이 돌려주는 flat JSON 레코드 1건.
// 이 서비스가 직접 읽는 필드는 timestamp 필드와 partition key 필드뿐이고,
// 나머지는 그대로 envelope 의 data 로 실어 보낸다.
//
// 숫자는 json.Number 로 디코딩되므로 재인코딩 시 원본 표기가 유지된다.
type Record map[string]any

// String 은 field 값을 문자열로 돌려준다.
// 필드가 없거나 null 이면 ok=false.
func (r Record) String(field string) (string, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return fmt.Sprintf("%v", t), true
	default:
		return fmt.Sprint(t), true
	}
}

// Timestamp 는 field 가 문자열일 때만 값을 돌려준다.
// 타임스탬프 비교는 고정폭 ISO-8601 문자열의 사전순 비교에 의존하므로
// 문자열이 아닌 값은 타임스탬프로 취급하지 않는다.
func (r Record) Timestamp(field string) (string, bool) {
	s, ok := r[field].(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
