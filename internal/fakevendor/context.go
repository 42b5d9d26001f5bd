package fakevendor

import (
	"context"
	"net/http"
)

type subjectKey struct{}

func contextWithSubject(r *http.Request, subject string) context.Context {
	return context.WithValue(r.Context(), subjectKey{}, subject)
}

func subjectFrom(r *http.Request) string {
	s, _ := r.Context().Value(subjectKey{}).(string)
	return s
}
