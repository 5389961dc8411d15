package server

import (
	"net"
	"net/http"
	"strings"
)

// clientIP 는 /invoke 호출자를 로그에 남기기 위한 주소를 고른다.
// 우선순위:
//  1. X-Forwarded-For 의 첫 번째 유효한 주소 (리버스 프록시 뒤)
//  2. RemoteAddr
//
// 로컬 모드는 보통 loopback 이나 사설망에서 호출되므로 private 주소도 그대로 쓴다.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			if ip := safeParseIP(part); ip != nil {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := safeParseIP(host); ip != nil {
		return ip.String()
	}
	return "unknown"
}

// safeParseIP 는 공백을 걷어내고 파싱한다. 잘못된 값이면 nil.
func safeParseIP(s string) net.IP {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return net.ParseIP(s)
}
