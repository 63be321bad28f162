package camera

import "sync"

// Mode selects which camera is allowed to drive culling.
type Mode int

const (
	// ModePlay accepts only the recognized gameplay camera.
	ModePlay Mode = iota
	// ModePreview accepts only the camera currently drawing the preview.
	ModePreview
)

// Recognizer decides which camera's frames drive LOD updates. Hosts call
// Recognize/SetPreview as cameras come and go; the registry asks
// Authorized once per frame callback.
type Recognizer struct {
	mu         sync.RWMutex
	mode       Mode
	recognized string
	preview    string
}

// NewRecognizer creates a play-mode recognizer for the given camera ID.
func NewRecognizer(recognized string) *Recognizer {
	return &Recognizer{recognized: recognized}
}

// Recognize makes id the gameplay camera.
func (r *Recognizer) Recognize(id string) {
	r.mu.Lock()
	r.recognized = id
	r.mu.Unlock()
}

// Forget clears the gameplay camera if it is still id.
func (r *Recognizer) Forget(id string) {
	r.mu.Lock()
	if r.recognized == id {
		r.recognized = ""
	}
	r.mu.Unlock()
}

// SetMode switches between play and preview.
func (r *Recognizer) SetMode(m Mode) {
	r.mu.Lock()
	r.mode = m
	r.mu.Unlock()
}

// SetPreview records which camera currently draws the preview.
func (r *Recognizer) SetPreview(id string) {
	r.mu.Lock()
	r.preview = id
	r.mu.Unlock()
}

// Recognized returns the gameplay camera ID.
func (r *Recognizer) Recognized() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.recognized
}

// Authorized reports whether frames from camera id may drive culling.
func (r *Recognizer) Authorized(id string) bool {
	if id == "" {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.mode == ModePreview {
		return id == r.preview
	}
	return id == r.recognized
}
