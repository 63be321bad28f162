package hlod

import "context"

// Object is a renderable handle owned by a ResourceController. The core
// only toggles its visibility.
type Object interface {
	SetActive(active bool)
}

// LoadRequest identifies one object and the node asking for it.
type LoadRequest struct {
	ID       int
	Level    int
	Distance float32
}

// ResourceController provides and takes back the high and low detail
// objects of one tree.
//
// GetHighObject and GetLowObject may complete immediately or after any
// number of frames, but onLoaded must run on the frame thread: either
// inside the Get call or from Poll. ctx is cancelled when the requesting
// node stops wanting the object; a controller may then skip the callback.
type ResourceController interface {
	GetHighObject(ctx context.Context, req LoadRequest, onLoaded func(Object))
	GetLowObject(ctx context.Context, req LoadRequest, onLoaded func(Object))
	ReleaseHighObject(id int)
	ReleaseLowObject(id int)
	HighObjectCount() int
	LowObjectCount() int
}

// Poller is implemented by controllers that finish loads off the frame
// thread. The tree calls Poll at the top of every update to deliver
// queued completions.
type Poller interface {
	Poll()
}

// Installer is implemented by controllers that prepare their pool once
// before the first frame.
type Installer interface {
	Install()
}

// Starter is implemented by controllers with a start/stop lifecycle.
type Starter interface {
	OnStart()
	OnStop()
}
