package web

import (
	"context"
	"errors"
	"log"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/sonarchat/config"
)

// settleTime lets an editor finish writing before the file is read.
const settleTime = 100 * time.Millisecond

// Watch reloads the settings file at path whenever it changes, until
// ctx is done.  A changed file is submitted like the form: it
// becomes the draft, and replaces the session configuration if it is
// valid.  The directory is watched rather than the file so that
// editors that save by renaming are seen.
func (s *Server) Watch(ctx context.Context, path string) (err error) {
	defer Return(&err)
	path, err = filepath.Abs(path)
	Ck(err)
	watcher, err := fsnotify.NewWatcher()
	Ck(err)
	err = watcher.Add(filepath.Dir(path))
	if err != nil {
		watcher.Close()
		return
	}
	log.Printf("Watching %s", path)

	go func() {
		defer watcher.Close()
		var timer <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != path {
					continue
				}
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
					timer = time.After(settleTime)
				}
			case <-timer:
				timer = nil
				s.reload(path)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("watch error: %v", err)
			}
		}
	}()
	return
}

// reload applies the settings file at path.
func (s *Server) reload(path string) {
	form, err := config.LoadForm(path)
	if err != nil {
		log.Printf("cannot load %s: %v", path, err)
		return
	}
	s.mu.Lock()
	s.draft = form.Clone()
	s.mu.Unlock()

	cfg, err := config.Build(form)
	if err != nil {
		var verrs config.ValidationErrors
		errors.As(err, &verrs)
		log.Printf("settings in %s not applied: %v", path, err)
		s.pool.Broadcast(map[string]interface{}{"type": "config", "errors": verrs})
		return
	}
	s.session.Configure(cfg)
	log.Printf("applied settings from %s", path)
	s.pool.Broadcast(map[string]string{"type": "config"})
}
