package firmware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/muurk/obmctl/internal/logging"
	"github.com/muurk/obmctl/internal/rest"
	"github.com/muurk/obmctl/internal/wait"
)

const (
	softwareRoot      = "/xyz/openbmc_project/software"
	softwareEnumerate = softwareRoot + "/enumerate"
	uploadPath        = "/upload/image"

	// DefaultTimeout bounds each wait of the image lifecycle.
	DefaultTimeout = 10 * time.Minute
)

var imagePathRe = regexp.MustCompile(`^` + softwareRoot + `/(.*)$`)

// association objects that live next to the images
var notImages = map[string]bool{
	"active":     true,
	"functional": true,
}

// API is the part of the session client the image lifecycle needs.
type API interface {
	Get(ctx context.Context, path string, out any) error
	Put(ctx context.Context, path string, value any) error
	Upload(ctx context.Context, path string, payload []byte) (*rest.Response, error)
	Enumerate(ctx context.Context, path string) (map[string]json.RawMessage, error)
}

// Manager drives firmware images through upload, Ready, activation and
// Active.
type Manager struct {
	api    API
	waiter *wait.Waiter
	logger *zap.Logger

	// Progress, if set, receives every activation state read while
	// waiting.
	Progress func(id string, state Activation)
}

// NewManager creates a Manager. A nil waiter polls every 5s on the real
// clock.
func NewManager(api API, waiter *wait.Waiter, logger *zap.Logger) *Manager {
	logger = logging.OrDefault(logger)
	if waiter == nil {
		waiter = wait.NewWaiter(logger)
	}
	return &Manager{api: api, waiter: waiter, logger: logger}
}

// Upload sends an image. It does not wait for the image to become Ready.
// The returned id is empty on firmware that does not report it.
func (m *Manager) Upload(ctx context.Context, payload []byte) (string, error) {
	m.logger.Info("Uploading image", zap.Int("bytes", len(payload)))
	resp, err := m.api.Upload(ctx, uploadPath, payload)
	if err != nil {
		return "", fmt.Errorf("image upload failed: %w", err)
	}
	var id string
	if err := resp.DecodeData(&id); err != nil {
		m.logger.Debug("Upload reply carries no image id", zap.ByteString("reply", resp.Raw))
		return "", nil
	}
	return id, nil
}

// UploadFile uploads the image at path.
func (m *Manager) UploadFile(ctx context.Context, path string) (string, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}
	return m.Upload(ctx, payload)
}

// ListImageIDs returns the ids of all images, sorted.
func (m *Manager) ListImageIDs(ctx context.Context) ([]string, error) {
	objects, err := m.api.Enumerate(ctx, softwareEnumerate)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(objects))
	for path := range objects {
		match := imagePathRe.FindStringSubmatch(path)
		if match == nil {
			continue
		}
		id := match[1]
		if id == "" || strings.Contains(id, "/") || notImages[id] {
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	m.logger.Debug("Listed images", zap.Strings("ids", ids))
	return ids, nil
}

func imagePath(id string) string {
	return softwareRoot + "/" + id
}

// Image reads one image.
func (m *Manager) Image(ctx context.Context, id string) (Image, error) {
	var raw json.RawMessage
	if err := m.api.Get(ctx, imagePath(id), &raw); err != nil {
		return Image{}, err
	}
	return decodeImage(id, raw)
}

// Images reads every image.
func (m *Manager) Images(ctx context.Context) ([]Image, error) {
	ids, err := m.ListImageIDs(ctx)
	if err != nil {
		return nil, err
	}
	images := make([]Image, 0, len(ids))
	for _, id := range ids {
		img, err := m.Image(ctx, id)
		if err != nil {
			return nil, err
		}
		images = append(images, img)
	}
	return images, nil
}

// Priority returns the boot priority of an image; 0 is the boot side.
func (m *Manager) Priority(ctx context.Context, id string) (int, error) {
	img, err := m.Image(ctx, id)
	if err != nil {
		return 0, err
	}
	if !img.HasPriority {
		return 0, fmt.Errorf("image %s has no priority", id)
	}
	return img.Priority, nil
}

// SetPriority changes the boot priority of an image.
func (m *Manager) SetPriority(ctx context.Context, id string, priority int) error {
	return m.api.Put(ctx, imagePath(id)+"/attr/Priority", priority)
}

// Activation reads the activation state of an image.
func (m *Manager) Activation(ctx context.Context, id string) (Activation, error) {
	img, err := m.Image(ctx, id)
	if err != nil {
		return ActivationUnknown, err
	}
	return img.Activation, nil
}

// WaitReady waits until the image is Ready for activation. Any other state
// keeps polling.
func (m *Manager) WaitReady(ctx context.Context, id string, timeout time.Duration) error {
	poll := wait.Poll[Activation]{
		Target:   Ready,
		Describe: fmt.Sprintf("image %s Ready", id),
		Read:     func(ctx context.Context) (Activation, error) { return m.Activation(ctx, id) },
		Observe:  func(a Activation) { m.report(id, a) },
	}
	if _, err := poll.Run(ctx, m.waiter, timeout); err != nil {
		return err
	}
	m.logger.Info("Image upload is complete and ready for activation", zap.String("id", id))
	return nil
}

// Activate requests activation of an image.
func (m *Manager) Activate(ctx context.Context, id string) error {
	m.logger.Info("Activating image", zap.String("id", id))
	return m.api.Put(ctx, imagePath(id)+"/attr/RequestedActivation", RequestActive.DBus())
}

// WaitActive waits until the image is Active. Activating is reported as
// progress. Failed ends the wait with *ActivationFailedError; a stall
// returns *ActivationTimeoutError, which unwraps to the *wait.TimeoutError.
func (m *Manager) WaitActive(ctx context.Context, id string, timeout time.Duration) error {
	poll := wait.Poll[Activation]{
		Target:   Active,
		Describe: fmt.Sprintf("image %s Active", id),
		Read: func(ctx context.Context) (Activation, error) {
			a, err := m.Activation(ctx, id)
			if err == nil && a == Failed {
				return a, &ActivationFailedError{ID: id}
			}
			return a, err
		},
		Observe: func(a Activation) {
			if a == Activating {
				m.logger.Info("Image activation in progress", zap.String("id", id))
			}
			m.report(id, a)
		},
	}
	if _, err := poll.Run(ctx, m.waiter, timeout); err != nil {
		var te *wait.TimeoutError
		if errors.As(err, &te) {
			return &ActivationTimeoutError{ID: id, Err: te}
		}
		return err
	}
	m.logger.Info("Image activated", zap.String("id", id))
	return nil
}

func (m *Manager) report(id string, a Activation) {
	if m.Progress != nil {
		m.Progress(id, a)
	}
}

// ImagesByPurpose returns the images with the given purpose, in id order.
func (m *Manager) ImagesByPurpose(ctx context.Context, purpose Purpose) ([]Image, error) {
	all, err := m.Images(ctx)
	if err != nil {
		return nil, err
	}
	return filterByPurpose(all, purpose), nil
}

// filterByPurpose builds a new slice; images is left untouched.
func filterByPurpose(images []Image, purpose Purpose) []Image {
	matched := make([]Image, 0, len(images))
	for _, img := range images {
		if img.Purpose == purpose {
			matched = append(matched, img)
		}
	}
	return matched
}

// HostImageIDs returns the ids of host firmware images.
func (m *Manager) HostImageIDs(ctx context.Context) ([]string, error) {
	images, err := m.ImagesByPurpose(ctx, PurposeHost)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(images))
	for i, img := range images {
		ids[i] = img.ID
	}
	m.logger.Debug("Host images", zap.Strings("ids", ids))
	return ids, nil
}

// HasHostImage reports whether the BMC manages any host firmware image,
// which means host firmware is updated through the image lifecycle.
func (m *Manager) HasHostImage(ctx context.Context) (bool, error) {
	ids, err := m.ListImageIDs(ctx)
	if err != nil {
		return false, err
	}
	for _, id := range ids {
		img, err := m.Image(ctx, id)
		if err != nil {
			return false, err
		}
		if img.Purpose == PurposeHost {
			return true, nil
		}
	}
	return false, nil
}

// Flash uploads payload and drives the new image to Active. Each wait is
// bounded by timeout. It returns the new image id.
func (m *Manager) Flash(ctx context.Context, payload []byte, timeout time.Duration) (string, error) {
	id, err := m.Register(ctx, payload, timeout)
	if err != nil {
		return "", err
	}
	if err := m.WaitReady(ctx, id, timeout); err != nil {
		return id, err
	}
	if err := m.Activate(ctx, id); err != nil {
		return id, err
	}
	return id, m.WaitActive(ctx, id, timeout)
}

// Register uploads payload and returns the id of the image it created.
// Firmware that does not answer the upload with an id is polled until an
// unknown id shows up in the inventory.
func (m *Manager) Register(ctx context.Context, payload []byte, timeout time.Duration) (string, error) {
	before, err := m.ListImageIDs(ctx)
	if err != nil {
		return "", err
	}
	known := make(map[string]bool, len(before))
	for _, id := range before {
		known[id] = true
	}

	id, err := m.Upload(ctx, payload)
	if err != nil {
		return "", err
	}
	if id == "" || known[id] {
		id, err = m.awaitNewImage(ctx, known, timeout)
		if err != nil {
			return "", err
		}
	}
	m.logger.Info("Uploaded image", zap.String("id", id))
	return id, nil
}

// awaitNewImage polls the inventory until an id not in known shows up.
func (m *Manager) awaitNewImage(ctx context.Context, known map[string]bool, timeout time.Duration) (string, error) {
	var found string
	poll := wait.Poll[bool]{
		Target:   true,
		Describe: "uploaded image to appear",
		Read: func(ctx context.Context) (bool, error) {
			ids, err := m.ListImageIDs(ctx)
			if err != nil {
				return false, err
			}
			for _, id := range ids {
				if !known[id] {
					found = id
					return true, nil
				}
			}
			return false, nil
		},
	}
	if _, err := poll.Run(ctx, m.waiter, timeout); err != nil {
		if wait.IsTimeout(err) {
			return "", fmt.Errorf("%w: %v", ErrNoNewImage, err)
		}
		return "", err
	}
	return found, nil
}
