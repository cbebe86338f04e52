package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// QuizByLinkKey returns the cache key for a published quiz resolved by its share link
func (r *CacheKeyStruct) QuizByLinkKey(link string) string {
	return fmt.Sprintf("quiz:link:%s", link)
}

// QuizMonitorChannel returns the Redis PubSub channel name for a quiz's live monitor
func (r *CacheKeyStruct) QuizMonitorChannel(quizID string) string {
	return fmt.Sprintf("quiz:%s:monitor", quizID)
}

// RateLimitKey returns the counter key for a client IP within a window
func (r *CacheKeyStruct) RateLimitKey(ip string, window int64) string {
	return fmt.Sprintf("ratelimit:%s:%d", ip, window)
}

var CacheKey = NewCacheKeyStruct()
