package campaign

import (
	"os"
	"path/filepath"
	"sync"

	apperrors "followup-dispatcher/internal/common/errors"
)

// TemplateSet is the raw, unrendered content for one stage.
type TemplateSet struct {
	Subject string
	HTML    string
	Text    string
}

// TemplateSource supplies the templates for a stage.
type TemplateSource interface {
	Load(stage Stage) (TemplateSet, error)
}

// FileTemplateSource reads <edition>.html and <edition>.txt from Dir, e.g.
// email-2.html. Files are read on every Load unless Cache is set.
type FileTemplateSource struct {
	Dir      string
	Subjects map[Stage]string
	Cache    bool

	mu     sync.Mutex
	cached map[Stage]TemplateSet
}

// NewFileTemplateSource creates a source rooted at dir.
func NewFileTemplateSource(dir string, subjects map[Stage]string, cache bool) *FileTemplateSource {
	return &FileTemplateSource{
		Dir:      dir,
		Subjects: subjects,
		Cache:    cache,
		cached:   make(map[Stage]TemplateSet),
	}
}

func (s *FileTemplateSource) Load(stage Stage) (TemplateSet, error) {
	if s.Cache {
		s.mu.Lock()
		set, ok := s.cached[stage]
		s.mu.Unlock()
		if ok {
			return set, nil
		}
	}

	html, err := s.read(stage.Edition() + ".html")
	if err != nil {
		return TemplateSet{}, err
	}
	text, err := s.read(stage.Edition() + ".txt")
	if err != nil {
		return TemplateSet{}, err
	}

	set := TemplateSet{Subject: s.Subjects[stage], HTML: html, Text: text}

	if s.Cache {
		s.mu.Lock()
		if s.cached == nil {
			s.cached = make(map[Stage]TemplateSet)
		}
		s.cached[stage] = set
		s.mu.Unlock()
	}
	return set, nil
}

func (s *FileTemplateSource) read(name string) (string, error) {
	raw, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err != nil {
		return "", apperrors.NewTemplateLoadFailedError(name, err)
	}
	return string(raw), nil
}

// StaticTemplateSource serves templates held in memory.
type StaticTemplateSource map[Stage]TemplateSet

func (s StaticTemplateSource) Load(stage Stage) (TemplateSet, error) {
	set, ok := s[stage]
	if !ok {
		return TemplateSet{}, apperrors.NewTemplateLoadFailedError(stage.Edition(), os.ErrNotExist)
	}
	return set, nil
}
