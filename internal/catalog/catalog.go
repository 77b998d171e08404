// Package catalog is the read-only video library consulted for the context
// of a question. It does not own playback or storage of the videos.
package catalog

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("video not found")

type Video struct {
	ID          string        `json:"id" yaml:"id"`
	Title       string        `json:"title" yaml:"title"`
	Topic       string        `json:"topic" yaml:"topic"`
	Difficulty  string        `json:"difficulty" yaml:"difficulty"`
	Duration    time.Duration `json:"duration_ns" yaml:"duration"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
}

// Catalog is an immutable set of videos keyed by id.
type Catalog struct {
	videos map[string]Video
}

type file struct {
	Videos []Video `yaml:"videos"`
}

// Default returns the built-in library.
func Default() *Catalog {
	c, _ := New([]Video{
		{ID: "Area_Circle", Title: "Area of a Circle (Introduction to Pi)", Topic: "Geometry", Difficulty: "beginner", Duration: 3 * time.Minute},
		{ID: "PythagoreanTheorem", Title: "Derivation and Proof of the Pythagorean Theorem", Topic: "Geometry", Difficulty: "intermediate", Duration: 4 * time.Minute},
		{ID: "QuadraticFormula", Title: "Solving Quadratic Equations using the Formula", Topic: "Algebra", Difficulty: "intermediate", Duration: 5 * time.Minute},
	})
	return c
}

func New(videos []Video) (*Catalog, error) {
	c := &Catalog{videos: make(map[string]Video, len(videos))}
	for i, v := range videos {
		v.ID = strings.TrimSpace(v.ID)
		if v.ID == "" {
			return nil, fmt.Errorf("catalog: video %d has no id", i)
		}
		if _, dup := c.videos[v.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate video id %q", v.ID)
		}
		if strings.TrimSpace(v.Title) == "" {
			v.Title = v.ID
		}
		c.videos[v.ID] = v
	}
	return c, nil
}

// Load reads a YAML catalog from path.
func Load(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %q: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

func LoadFromReader(r io.Reader) (*Catalog, error) {
	var doc file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("catalog: decode yaml: %w", err)
	}
	return New(doc.Videos)
}

func (c *Catalog) Get(id string) (Video, error) {
	v, ok := c.videos[strings.TrimSpace(id)]
	if !ok {
		return Video{}, ErrNotFound
	}
	return v, nil
}

// List returns all videos ordered by id.
func (c *Catalog) List() []Video {
	out := make([]Video, 0, len(c.videos))
	for _, v := range c.videos {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ContextRef renders the prompt context for a video. Unknown ids still get a
// usable context so a question is never rejected for a missing catalog entry.
func (c *Catalog) ContextRef(videoID string) string {
	v, err := c.Get(videoID)
	if err != nil {
		if strings.TrimSpace(videoID) == "" {
			return "The student is watching a math lesson."
		}
		return fmt.Sprintf("The student is watching the math lesson %q.", videoID)
	}
	ref := fmt.Sprintf("The student is watching %q (topic: %s", v.Title, v.Topic)
	if v.Difficulty != "" {
		ref += ", level: " + v.Difficulty
	}
	ref += ")."
	if d := strings.TrimSpace(v.Description); d != "" {
		ref += " " + d
	}
	return ref
}
