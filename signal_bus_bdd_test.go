package ctrlloop

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/cucumber/godog"
)

var (
	errUnexpectedOrder    = errors.New("handlers ran in unexpected order")
	errUnexpectedCount    = errors.New("unexpected count")
	errUnexpectedHandlers = errors.New("handlers ran before flush")
	errBrokenHandler      = errors.New("broken handler")
)

// BusBDDTestContext holds state shared by the steps of one scenario.
type BusBDDTestContext struct {
	bus     *SignalBus
	metrics *countingMetrics
	order   []string
	handler map[string]Subscriber
}

func (c *BusBDDTestContext) reset() {
	c.metrics = &countingMetrics{}
	c.order = nil
	c.handler = make(map[string]Subscriber)
}

func (c *BusBDDTestContext) recorder(owner string) Subscriber {
	if sub, ok := c.handler[owner]; ok {
		return sub
	}
	sub := SubscriberFunc(func(context.Context, Value, Args) error {
		c.order = append(c.order, owner)
		return nil
	})
	c.handler[owner] = sub
	return sub
}

func (c *BusBDDTestContext) aFreshSignalBus() error {
	c.bus = NewSignalBus(WithBusMetrics(c.metrics))
	return nil
}

func (c *BusBDDTestContext) connectsTo(owner, signal string) error {
	_, err := c.bus.Connect(signal, c.recorder(owner), owner)
	return err
}

func (c *BusBDDTestContext) connectsAndConnectsLate(owner, signal, late string) error {
	connected := false
	_, err := c.bus.Connect(signal, SubscriberFunc(func(context.Context, Value, Args) error {
		c.order = append(c.order, owner)
		if connected {
			return nil
		}
		connected = true
		_, err := c.bus.Connect(signal, c.recorder(late), late)
		return err
	}), owner)
	return err
}

func (c *BusBDDTestContext) connectsAndDisconnects(owner, signal, victim string) error {
	_, err := c.bus.Connect(signal, SubscriberFunc(func(context.Context, Value, Args) error {
		c.order = append(c.order, owner)
		c.bus.Disconnect(signal, c.recorder(victim), victim)
		return nil
	}), owner)
	return err
}

func (c *BusBDDTestContext) connectsAndFails(owner, signal string) error {
	_, err := c.bus.Connect(signal, SubscriberFunc(func(context.Context, Value, Args) error {
		c.order = append(c.order, owner)
		return errBrokenHandler
	}), owner)
	return err
}

func (c *BusBDDTestContext) reEmitsFromItsHandler(owner, signal string) error {
	_, err := c.bus.Connect(signal, SubscriberFunc(func(ctx context.Context, sender Value, args Args) error {
		c.order = append(c.order, owner)
		return c.bus.Emit(ctx, signal, sender, args)
	}), owner)
	return err
}

func (c *BusBDDTestContext) isEmitted(signal string) error {
	return c.bus.Emit(context.Background(), signal, Null(), nil)
}

func (c *BusBDDTestContext) isEmittedDeferred(signal string) error {
	return c.bus.EmitDeferred(signal, Null(), nil)
}

func (c *BusBDDTestContext) theBusIsFlushed() error {
	c.bus.Flush(context.Background())
	return nil
}

func (c *BusBDDTestContext) everySubscriptionIsDisconnected(owner string) error {
	c.bus.DisconnectAll(owner)
	return nil
}

func (c *BusBDDTestContext) theHandlersRanInTheOrder(expected string) error {
	got := strings.Join(c.order, ", ")
	if got != expected {
		return fmt.Errorf("%w: got %q, want %q", errUnexpectedOrder, got, expected)
	}
	return nil
}

func (c *BusBDDTestContext) noHandlerHasRun() error {
	if len(c.order) != 0 {
		return fmt.Errorf("%w: %v", errUnexpectedHandlers, c.order)
	}
	return nil
}

func (c *BusBDDTestContext) ranTimes(owner string, n int) error {
	count := 0
	for _, o := range c.order {
		if o == owner {
			count++
		}
	}
	if count != n {
		return fmt.Errorf("%w: %s ran %d times, want %d", errUnexpectedCount, owner, count, n)
	}
	return nil
}

func (c *BusBDDTestContext) handlerFailuresAreReported(n int) error {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()
	if c.metrics.handlerFailures != n {
		return fmt.Errorf("%w: %d handler failures, want %d", errUnexpectedCount, c.metrics.handlerFailures, n)
	}
	return nil
}

func (c *BusBDDTestContext) reentrancyRejectionsAreReported(n int) error {
	c.metrics.mu.Lock()
	defer c.metrics.mu.Unlock()
	if c.metrics.reentrancyRejected != n {
		return fmt.Errorf("%w: %d reentrancy rejections, want %d", errUnexpectedCount, c.metrics.reentrancyRejected, n)
	}
	return nil
}

// InitializeBusScenario wires the step definitions.
func InitializeBusScenario(ctx *godog.ScenarioContext) {
	testCtx := &BusBDDTestContext{}

	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		testCtx.reset()
		return ctx, nil
	})

	ctx.Step(`^a fresh signal bus$`, testCtx.aFreshSignalBus)
	ctx.Step(`^"([^"]*)" connects to "([^"]*)"$`, testCtx.connectsTo)
	ctx.Step(`^"([^"]*)" connects to "([^"]*)" and connects "([^"]*)" when called$`, testCtx.connectsAndConnectsLate)
	ctx.Step(`^"([^"]*)" connects to "([^"]*)" and disconnects "([^"]*)" when called$`, testCtx.connectsAndDisconnects)
	ctx.Step(`^"([^"]*)" connects to "([^"]*)" and fails$`, testCtx.connectsAndFails)
	ctx.Step(`^"([^"]*)" re-emits "([^"]*)" from its handler$`, testCtx.reEmitsFromItsHandler)
	ctx.Step(`^"([^"]*)" is emitted$`, testCtx.isEmitted)
	ctx.Step(`^"([^"]*)" is emitted deferred$`, testCtx.isEmittedDeferred)
	ctx.Step(`^the bus is flushed$`, testCtx.theBusIsFlushed)
	ctx.Step(`^every subscription of "([^"]*)" is disconnected$`, testCtx.everySubscriptionIsDisconnected)
	ctx.Step(`^the handlers ran in the order "([^"]*)"$`, testCtx.theHandlersRanInTheOrder)
	ctx.Step(`^no handler has run$`, testCtx.noHandlerHasRun)
	ctx.Step(`^"([^"]*)" ran (\d+) times$`, testCtx.ranTimes)
	ctx.Step(`^(\d+) handler failures? (?:is|are) reported$`, testCtx.handlerFailuresAreReported)
	ctx.Step(`^(\d+) reentrancy rejections? (?:is|are) reported$`, testCtx.reentrancyRejectionsAreReported)
}

func TestSignalBusBDD(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: InitializeBusScenario,
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/signal_bus.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
