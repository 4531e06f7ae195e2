package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// TestPaperKey returns the cache key for a test's full paper, answer key included
func (r *CacheKeyStruct) TestPaperKey(testID string) string {
	return fmt.Sprintf("test:%s:paper", testID)
}

// SessionAnswersKey returns the hash key holding a student's autosaved answers
func (r *CacheKeyStruct) SessionAnswersKey(testID string, studentID int) string {
	return fmt.Sprintf("student:%d:test:%s:answers", studentID, testID)
}

// SessionResultKey returns the key holding a student's finalized result
func (r *CacheKeyStruct) SessionResultKey(testID string, studentID int) string {
	return fmt.Sprintf("student:%d:test:%s:result", studentID, testID)
}

// StudentActiveTestKey returns the key of the test a student is currently sitting
func (r *CacheKeyStruct) StudentActiveTestKey(studentID int) string {
	return fmt.Sprintf("student:%d:active_test", studentID)
}

// TestMonitorChannel returns the Redis PubSub channel name for a test's live proctor feed
func (r *CacheKeyStruct) TestMonitorChannel(testID string) string {
	return fmt.Sprintf("test:%s:monitor", testID)
}

var CacheKey = NewCacheKeyStruct()
