package firmware

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muurk/obmctl/internal/clock"
	"github.com/muurk/obmctl/internal/rest"
	"github.com/muurk/obmctl/internal/wait"
)

// fakeAPI is an in-memory software inventory.
type fakeAPI struct {
	mu      sync.Mutex
	objects map[string]map[string]any
	extra   []string
	// states queues Activation values returned by successive reads of an image
	states   map[string][]Activation
	puts     map[string]any
	uploads  [][]byte
	uploadID string
	onUpload func(f *fakeAPI)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		objects: map[string]map[string]any{},
		states:  map[string][]Activation{},
		puts:    map[string]any{},
	}
}

func (f *fakeAPI) addImage(id string, purpose Purpose, activation Activation, priority *int) {
	obj := map[string]any{
		"Activation":          activation.DBus(),
		"RequestedActivation": RequestNone.DBus(),
		"Purpose":             purpose.DBus(),
		"Version":             "v2.0-" + id,
	}
	if priority != nil {
		obj["Priority"] = *priority
	}
	f.objects[id] = obj
}

func (f *fakeAPI) Enumerate(_ context.Context, path string) (map[string]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if path != softwareEnumerate {
		return nil, errors.New("unexpected path " + path)
	}
	out := map[string]json.RawMessage{}
	for id, obj := range f.objects {
		raw, _ := json.Marshal(obj)
		out[softwareRoot+"/"+id] = raw
	}
	for _, p := range f.extra {
		out[p] = json.RawMessage(`{}`)
	}
	return out, nil
}

func (f *fakeAPI) Get(_ context.Context, path string, out any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := strings.TrimPrefix(path, softwareRoot+"/")
	obj, ok := f.objects[id]
	if !ok {
		return &rest.ApplicationError{Call: "GET " + path, StatusCode: 404, Message: "404 Not Found"}
	}
	if queue := f.states[id]; len(queue) > 0 {
		obj["Activation"] = queue[0].DBus()
		if len(queue) > 1 {
			f.states[id] = queue[1:]
		}
	}
	raw, _ := json.Marshal(obj)
	return json.Unmarshal(raw, out)
}

func (f *fakeAPI) Put(_ context.Context, path string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.puts[path] = value
	return nil
}

func (f *fakeAPI) Upload(_ context.Context, path string, payload []byte) (*rest.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if path != uploadPath {
		return nil, errors.New("unexpected upload path " + path)
	}
	f.uploads = append(f.uploads, payload)
	if f.onUpload != nil {
		f.onUpload(f)
	}
	data, _ := json.Marshal(f.uploadID)
	if f.uploadID == "" {
		data = []byte("null")
	}
	return &rest.Response{Status: "ok", Data: data}, nil
}

func intPtr(v int) *int { return &v }

func newTestManager(api API) (*Manager, *clock.Fake) {
	clk := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	return NewManager(api, &wait.Waiter{Interval: 5 * time.Second, Clock: clk}, nil), clk
}

func TestListImageIDs(t *testing.T) {
	api := newFakeAPI()
	api.addImage("b2", PurposeHost, Active, intPtr(0))
	api.addImage("a1", PurposeBMC, Active, intPtr(0))
	api.extra = []string{
		softwareRoot + "/active",
		softwareRoot + "/functional",
		softwareRoot + "/a1/inventory",
		"/xyz/openbmc_project/state/bmc0",
	}
	m, _ := newTestManager(api)

	ids, err := m.ListImageIDs(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"a1", "b2"}, ids)
}

func TestImage(t *testing.T) {
	api := newFakeAPI()
	api.addImage("a1", PurposeHost, Ready, intPtr(1))
	api.addImage("c3", PurposeBMC, NotReady, nil)
	m, _ := newTestManager(api)
	ctx := context.Background()

	img, err := m.Image(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, Image{
		ID:                  "a1",
		Version:             "v2.0-a1",
		Purpose:             PurposeHost,
		Activation:          Ready,
		RequestedActivation: RequestNone,
		Priority:            1,
		HasPriority:         true,
	}, img)

	p, err := m.Priority(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, 1, p)

	_, err = m.Priority(ctx, "c3")
	assert.Error(t, err)

	_, err = m.Image(ctx, "missing")
	assert.True(t, rest.IsNotFound(err))
}

func TestImagesByPurpose(t *testing.T) {
	api := newFakeAPI()
	// interleaved so a filter that removes while iterating would skip entries
	api.addImage("01", PurposeHost, Active, nil)
	api.addImage("02", PurposeHost, Active, nil)
	api.addImage("03", PurposeBMC, Active, nil)
	api.addImage("04", PurposeBMC, Active, nil)
	api.addImage("05", PurposeHost, Active, nil)
	m, _ := newTestManager(api)
	ctx := context.Background()

	host, err := m.ImagesByPurpose(ctx, PurposeHost)
	require.NoError(t, err)
	require.Len(t, host, 3)
	for _, img := range host {
		assert.Equal(t, PurposeHost, img.Purpose)
	}

	ids, err := m.HostImageIDs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"01", "02", "05"}, ids)

	bmc, err := m.ImagesByPurpose(ctx, PurposeBMC)
	require.NoError(t, err)
	assert.Len(t, bmc, 2)
}

func TestFilterByPurposeLeavesInputAlone(t *testing.T) {
	in := []Image{
		{ID: "1", Purpose: PurposeBMC},
		{ID: "2", Purpose: PurposeBMC},
		{ID: "3", Purpose: PurposeHost},
	}
	snapshot := append([]Image(nil), in...)

	out := filterByPurpose(in, PurposeHost)

	assert.Equal(t, []Image{{ID: "3", Purpose: PurposeHost}}, out)
	assert.Equal(t, snapshot, in)
}

func TestHasHostImage(t *testing.T) {
	api := newFakeAPI()
	api.addImage("a1", PurposeBMC, Active, nil)
	m, _ := newTestManager(api)
	ctx := context.Background()

	has, err := m.HasHostImage(ctx)
	require.NoError(t, err)
	assert.False(t, has)

	api.addImage("b2", PurposeHost, Active, nil)
	has, err = m.HasHostImage(ctx)
	require.NoError(t, err)
	assert.True(t, has)
}

func TestWaitReady(t *testing.T) {
	api := newFakeAPI()
	api.addImage("a1", PurposeHost, NotReady, nil)
	api.states["a1"] = []Activation{NotReady, NotReady, Ready}
	m, clk := newTestManager(api)

	require.NoError(t, m.WaitReady(context.Background(), "a1", 10*time.Minute))
	assert.Len(t, clk.Sleeps(), 2)
}

func TestWaitReadyTimeout(t *testing.T) {
	api := newFakeAPI()
	api.addImage("a1", PurposeHost, NotReady, nil)
	m, _ := newTestManager(api)

	err := m.WaitReady(context.Background(), "a1", time.Minute)

	var te *wait.TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Contains(t, te.Target, "a1")
	assert.False(t, IsActivationTimeout(err), "a ready timeout is not an activation timeout")
}

func TestActivate(t *testing.T) {
	api := newFakeAPI()
	m, _ := newTestManager(api)

	require.NoError(t, m.Activate(context.Background(), "a1"))
	assert.Equal(t,
		"xyz.openbmc_project.Software.Activation.RequestedActivations.Active",
		api.puts[softwareRoot+"/a1/attr/RequestedActivation"])
}

func TestSetPriority(t *testing.T) {
	api := newFakeAPI()
	m, _ := newTestManager(api)

	require.NoError(t, m.SetPriority(context.Background(), "a1", 0))
	assert.Equal(t, 0, api.puts[softwareRoot+"/a1/attr/Priority"])
}

func TestWaitActive(t *testing.T) {
	api := newFakeAPI()
	api.addImage("a1", PurposeHost, Ready, nil)
	api.states["a1"] = []Activation{Activating, Activating, Active}
	m, _ := newTestManager(api)
	var progress []Activation
	m.Progress = func(id string, a Activation) {
		assert.Equal(t, "a1", id)
		progress = append(progress, a)
	}

	require.NoError(t, m.WaitActive(context.Background(), "a1", 10*time.Minute))
	assert.Equal(t, []Activation{Activating, Activating, Active}, progress)
}

func TestWaitActiveStallNamesImage(t *testing.T) {
	api := newFakeAPI()
	api.addImage("deadbeef", PurposeHost, Activating, nil)
	m, _ := newTestManager(api)

	err := m.WaitActive(context.Background(), "deadbeef", 10*time.Minute)

	var at *ActivationTimeoutError
	require.ErrorAs(t, err, &at)
	assert.Equal(t, "deadbeef", at.ID)
	assert.True(t, IsActivationTimeout(err))

	var te *wait.TimeoutError
	require.ErrorAs(t, err, &te, "still a wait timeout underneath")
	assert.Contains(t, err.Error(), "deadbeef")
	assert.Equal(t, "Activating", te.Last)
}

func TestWaitActiveFailed(t *testing.T) {
	api := newFakeAPI()
	api.addImage("a1", PurposeHost, Activating, nil)
	api.states["a1"] = []Activation{Activating, Failed}
	m, _ := newTestManager(api)

	err := m.WaitActive(context.Background(), "a1", 10*time.Minute)

	assert.True(t, IsActivationFailed(err))
	assert.False(t, wait.IsTimeout(err))
	assert.False(t, IsActivationTimeout(err))
}

func TestFlashWithReportedID(t *testing.T) {
	api := newFakeAPI()
	api.addImage("old", PurposeHost, Active, intPtr(0))
	api.uploadID = "new1"
	api.onUpload = func(f *fakeAPI) {
		f.addImage("new1", PurposeHost, NotReady, nil)
		f.states["new1"] = []Activation{NotReady, Ready, Ready, Activating, Active}
	}
	m, _ := newTestManager(api)

	id, err := m.Flash(context.Background(), []byte("pnor"), 10*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, "new1", id)
	assert.Equal(t, [][]byte{[]byte("pnor")}, api.uploads)
	assert.Contains(t, api.puts, softwareRoot+"/new1/attr/RequestedActivation")
}

func TestFlashDetectsNewImage(t *testing.T) {
	api := newFakeAPI()
	api.addImage("old", PurposeBMC, Active, intPtr(0))
	api.onUpload = func(f *fakeAPI) {
		f.addImage("fresh", PurposeBMC, Ready, nil)
		f.states["fresh"] = []Activation{Ready, Ready, Active}
	}
	m, _ := newTestManager(api)

	id, err := m.Flash(context.Background(), []byte("bmc"), 10*time.Minute)

	require.NoError(t, err)
	assert.Equal(t, "fresh", id)
}

func TestFlashNoNewImage(t *testing.T) {
	api := newFakeAPI()
	api.addImage("old", PurposeBMC, Active, intPtr(0))
	m, _ := newTestManager(api)

	_, err := m.Flash(context.Background(), []byte("bmc"), time.Minute)

	assert.ErrorIs(t, err, ErrNoNewImage)
}

func TestParse(t *testing.T) {
	assert.Equal(t, Ready, ParseActivation("xyz.openbmc_project.Software.Activation.Activations.Ready"))
	assert.Equal(t, Activating, ParseActivation("Activating"))
	assert.Equal(t, ActivationUnknown, ParseActivation("xyz.openbmc_project.Software.Activation.Activations.Staged"))
	assert.Equal(t, PurposeHost, ParsePurpose("xyz.openbmc_project.Software.Version.VersionPurpose.Host"))
	assert.Equal(t, PurposeBMC, ParsePurpose("bmc"))
	assert.Equal(t, PurposeUnknown, ParsePurpose(""))
	assert.Equal(t, RequestActive, ParseRequestedActivation(RequestActive.DBus()))
	assert.Equal(t, "xyz.openbmc_project.Software.Version.VersionPurpose.BMC", PurposeBMC.DBus())
}
