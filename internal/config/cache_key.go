package config

import (
	"fmt"

	"github.com/google/uuid"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session.
func (r *CacheKeyStruct) StudentSessionKey(studentID int) string {
	return fmt.Sprintf("login:%d", studentID)
}

// AnswerBufferKey returns the cache key for a submission's autosave buffer.
func (r *CacheKeyStruct) AnswerBufferKey(submissionID uuid.UUID) string {
	return fmt.Sprintf("submission:%s:answers", submissionID)
}

// ResultKey returns the cache key for one student's Result in a
// (session, term) scope.
func (r *CacheKeyStruct) ResultKey(studentID int, session string, term int) string {
	return fmt.Sprintf("result:%d:%s:%d", studentID, session, term)
}

// ExamRoomChannel returns the pub/sub channel for an exam's live room
// (proctors and students of that exam).
func (r *CacheKeyStruct) ExamRoomChannel(examID uuid.UUID) string {
	return fmt.Sprintf("exam:%s:room", examID)
}

// StudentChannel returns the pub/sub channel targeting a single student.
func (r *CacheKeyStruct) StudentChannel(studentID int) string {
	return fmt.Sprintf("student:%d:events", studentID)
}

var CacheKey = NewCacheKeyStruct()
