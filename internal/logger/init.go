package logger

import "log"

// InitLogger 로그 초기화
func InitLogger() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Printf("Logger initialized")
}
