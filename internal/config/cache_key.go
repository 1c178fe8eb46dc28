package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// UserSessionKey returns the cache key for a user's login session.
func (r *CacheKeyStruct) UserSessionKey(userID int) string {
	return fmt.Sprintf("login:%d", userID)
}

// StudentAnswersKey returns the cache key for a student's autosaved answers.
func (r *CacheKeyStruct) StudentAnswersKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:answers", studentID, examID)
}

// AttemptStartKey returns the cache key for a student's attempt start time.
func (r *CacheKeyStruct) AttemptStartKey(examID string, studentID int) string {
	return fmt.Sprintf("student:%d:exam:%s:attempt_start", studentID, examID)
}

// ExamPayloadKey returns the cache key for an exam's student-facing payload.
func (r *CacheKeyStruct) ExamPayloadKey(examID string) string {
	return fmt.Sprintf("exam:%s:payload", examID)
}

var CacheKey = NewCacheKeyStruct()
