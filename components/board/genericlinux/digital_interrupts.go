package genericlinux

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"periph.io/x/conn/v3/gpio"

	"github.com/tocado/motorctl/components/board"
	"github.com/tocado/motorctl/logging"
)

// edgePollTimeout bounds each WaitForEdge so the watcher notices cancellation.
const edgePollTimeout = 100 * time.Millisecond

type digitalInterrupt struct {
	name   string
	pin    gpio.PinIO
	logger logging.Logger

	mu       sync.Mutex
	pull     gpio.Pull
	handlers map[uint64]board.EdgeHandler
	nextID   uint64

	// Set while the watcher goroutine runs.
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

func newDigitalInterrupt(name string, pin gpio.PinIO, logger logging.Logger) *digitalInterrupt {
	return &digitalInterrupt{
		name:     name,
		pin:      pin,
		logger:   logger,
		pull:     gpio.PullUp,
		handlers: map[uint64]board.EdgeHandler{},
	}
}

func toPeriphPull(pull board.Pull) gpio.Pull {
	switch pull {
	case board.PullUp:
		return gpio.PullUp
	case board.PullDown:
		return gpio.PullDown
	default:
		return gpio.Float
	}
}

func (di *digitalInterrupt) Name() string {
	return di.name
}

func (di *digitalInterrupt) Value(ctx context.Context) (bool, error) {
	return di.pin.Read() == gpio.High, nil
}

func (di *digitalInterrupt) SetPull(ctx context.Context, pull board.Pull) error {
	di.mu.Lock()
	defer di.mu.Unlock()
	di.pull = toPeriphPull(pull)
	edge := gpio.NoEdge
	if di.cancelFunc != nil {
		edge = gpio.BothEdges
	}
	if err := di.pin.In(di.pull, edge); err != nil {
		return errors.Wrapf(err, "configuring %s as input", di.name)
	}
	return nil
}

func (di *digitalInterrupt) AddCallback(handler board.EdgeHandler) (func(), error) {
	if handler == nil {
		return nil, errors.New("nil edge handler")
	}
	di.mu.Lock()
	defer di.mu.Unlock()

	if di.cancelFunc == nil {
		if err := di.pin.In(di.pull, gpio.BothEdges); err != nil {
			return nil, board.NewHardwareUnavailableError("enabling edge detection on "+di.name, err)
		}
		di.startWatcher()
	}

	id := di.nextID
	di.nextID++
	di.handlers[id] = handler

	var once sync.Once
	return func() {
		once.Do(func() { di.removeCallback(id) })
	}, nil
}

// startWatcher must be called with the mutex held.
func (di *digitalInterrupt) startWatcher() {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	di.cancelFunc = cancelFunc
	di.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		for {
			if cancelCtx.Err() != nil {
				return
			}
			if !di.pin.WaitForEdge(edgePollTimeout) {
				continue
			}
			if cancelCtx.Err() != nil {
				return
			}
			tick := board.Tick{
				Name:             di.name,
				High:             di.pin.Read() == gpio.High,
				TimestampNanosec: uint64(time.Now().UnixNano()),
			}
			for _, handler := range di.snapshotHandlers() {
				handler(tick)
			}
		}
	}, di.activeBackgroundWorkers.Done)
}

func (di *digitalInterrupt) snapshotHandlers() []board.EdgeHandler {
	di.mu.Lock()
	defer di.mu.Unlock()
	handlers := make([]board.EdgeHandler, 0, len(di.handlers))
	for _, h := range di.handlers {
		handlers = append(handlers, h)
	}
	return handlers
}

func (di *digitalInterrupt) removeCallback(id uint64) {
	di.mu.Lock()
	delete(di.handlers, id)
	if len(di.handlers) > 0 || di.cancelFunc == nil {
		di.mu.Unlock()
		return
	}
	cancel := di.cancelFunc
	di.cancelFunc = nil
	pull := di.pull
	di.mu.Unlock()

	cancel()
	di.activeBackgroundWorkers.Wait()
	if err := di.pin.In(pull, gpio.NoEdge); err != nil {
		di.logger.Warnw("error disabling edge detection", "error", err)
	}
}

func (di *digitalInterrupt) Close() error {
	di.mu.Lock()
	cancel := di.cancelFunc
	di.cancelFunc = nil
	di.handlers = map[uint64]board.EdgeHandler{}
	di.mu.Unlock()

	if cancel != nil {
		cancel()
		di.activeBackgroundWorkers.Wait()
	}
	return nil
}
