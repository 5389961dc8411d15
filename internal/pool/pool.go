package pool

import (
	"bytes"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// ---------------------------------------------------------------
// Pool 구성 목적
//
// poller 는 5초마다 여러 endpoint 응답을 읽고, 실패 배치를
// gzip 으로 묶는다. 응답 본문 버퍼와 gzip.Writer 는 크기가 커서
// 매 cycle 새로 할당하지 않고 재사용한다.
// ---------------------------------------------------------------

var (
	// BodyPool:
	//   - upstream 응답 본문을 읽는 임시 버퍼
	//   - 초기 용량 64KB (car_data 5초 분량이 대략 이 정도)
	BodyPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 64*1024))
		},
	}

	// BufferPool:
	//   - gzip 인코딩 결과를 담는 임시 버퍼
	BufferPool = sync.Pool{
		New: func() any {
			return bytes.NewBuffer(make([]byte, 0, 256*1024))
		},
	}

	// GzipPool:
	//   - gzip.Writer 재사용 (BestSpeed)
	GzipPool = sync.Pool{
		New: func() any {
			w, _ := gzip.NewWriterLevel(nil, gzip.BestSpeed)
			return w
		},
	}
)

// Pool에 되돌려줄 최대 버퍼 용량.
// 이보다 큰 버퍼는 GC에게 위임한다.
const MaxBufferCap = 4 * 1024 * 1024 // 4MB

// GetBuffer 는 Reset 된 버퍼를 꺼낸다.
func GetBuffer(p *sync.Pool) *bytes.Buffer {
	buf := p.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

// PutBuffer:
//   - MaxBufferCap 이하이면 풀에 재사용
//   - 초대형 버퍼는 풀로 돌리지 않음
func PutBuffer(p *sync.Pool, buf *bytes.Buffer) {
	if buf.Cap() <= MaxBufferCap {
		buf.Reset()
		p.Put(buf)
	}
}
