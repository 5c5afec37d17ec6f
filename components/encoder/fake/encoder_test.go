package fake

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestEncoder(t *testing.T) {
	ctx := context.Background()
	e := &Encoder{}

	test.That(t, e.Running(), test.ShouldBeFalse)
	test.That(t, e.Start(ctx), test.ShouldBeNil)
	test.That(t, e.Running(), test.ShouldBeTrue)

	e.Tick(5)
	e.Tick(-2)
	pos, err := e.Position(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos, test.ShouldEqual, 3)

	test.That(t, e.ResetPosition(ctx, 100), test.ShouldBeNil)
	pos, _ = e.Position(ctx)
	test.That(t, pos, test.ShouldEqual, 100)

	e.OnRead = func(position int64) int64 { return position + 10 }
	pos, _ = e.Position(ctx)
	test.That(t, pos, test.ShouldEqual, 110)
	pos, _ = e.Position(ctx)
	test.That(t, pos, test.ShouldEqual, 120)

	e.PositionErr = errors.New("bus fault")
	_, err = e.Position(ctx)
	test.That(t, err, test.ShouldBeError, e.PositionErr)

	test.That(t, e.Stop(), test.ShouldBeNil)
	test.That(t, e.Running(), test.ShouldBeFalse)
}
