package client

import (
	"context"
	"errors"
	"math/big"
	"time"

	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

const (
	feedBuffer      = 64
	feedRenewDelay  = time.Second
	headsBufferSize = 16
)

// SubscribeMinedBlocks returns a feed of mined blocks starting at
// startingBlock. History up to the head is replayed first, then new blocks
// follow as they are mined. After any interruption the feed resumes from the
// last delivered block + 1, or after the recorded watermark when that is
// further ahead. The channel is closed when ctx ends or the connector stops.
func (c *Connector) SubscribeMinedBlocks(ctx context.Context, startingBlock uint64) <-chan types.MinedBlock {
	out := make(chan types.MinedBlock, feedBuffer)
	go c.runFeed(ctx, startingBlock, out)
	return out
}

func (c *Connector) runFeed(ctx context.Context, next uint64, out chan<- types.MinedBlock) {
	defer close(out)

	for {
		if wm, ok := c.Watermark(); ok && wm+1 > next {
			next = wm + 1
		}

		s, err := c.acquire(ctx)
		if err != nil {
			return
		}

		err = c.followBlocks(ctx, s, &next, out)
		if errors.Is(err, ErrServiceStopping) || ctx.Err() != nil {
			return
		}
		c.logger.Warn("block feed interrupted, renewing",
			zap.Uint64("resume_block", next),
			zap.Error(err),
		)
		c.reportBroken(s, err)

		timer := time.NewTimer(feedRenewDelay)
		select {
		case <-timer.C:
		case <-c.stopCh:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
}

// followBlocks replays up to the head and then follows new heads on s. It
// only returns on error.
func (c *Connector) followBlocks(ctx context.Context, s *session, next *uint64, out chan<- types.MinedBlock) error {
	head, err := s.eth.BlockNumber(ctx)
	if err != nil {
		return err
	}
	if err := c.replay(ctx, s, next, head, out); err != nil {
		return err
	}

	if s.subscribe {
		err := c.followHeads(ctx, s, next, out)
		if !errors.Is(err, rpc.ErrNotificationsUnsupported) {
			return err
		}
		c.logger.Info("node does not support subscriptions, polling for blocks",
			zap.Duration("interval", c.cfg.PollingInterval),
		)
	}
	return c.pollHeads(ctx, s, next, out)
}

func (c *Connector) followHeads(ctx context.Context, s *session, next *uint64, out chan<- types.MinedBlock) error {
	heads := make(chan *gethtypes.Header, headsBufferSize)
	sub, err := s.eth.SubscribeNewHead(ctx, heads)
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-c.stopCh:
			return ErrServiceStopping
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				err = errors.New("subscription closed")
			}
			return err
		case h := <-heads:
			number := h.Number.Uint64()
			if number < *next {
				continue
			}
			// fill any gap the subscription skipped
			if number > *next {
				if err := c.replay(ctx, s, next, number-1, out); err != nil {
					return err
				}
			}
			if err := c.deliver(ctx, headerToBlock(h), out); err != nil {
				return err
			}
			*next = number + 1
		}
	}
}

func (c *Connector) pollHeads(ctx context.Context, s *session, next *uint64, out chan<- types.MinedBlock) error {
	ticker := time.NewTicker(c.cfg.PollingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return ErrServiceStopping
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			start := time.Now()
			head, err := s.eth.BlockNumber(ctx)
			c.metrics.ObserveCall("poll_block_number", start, err)
			if err != nil {
				return err
			}
			if err := c.replay(ctx, s, next, head, out); err != nil {
				return err
			}
		}
	}
}

// replay delivers blocks [*next, head]
func (c *Connector) replay(ctx context.Context, s *session, next *uint64, head uint64, out chan<- types.MinedBlock) error {
	for *next <= head {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		start := time.Now()
		h, err := s.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(*next))
		c.metrics.ObserveCall("get_header", start, err)
		if err != nil {
			return err
		}
		if err := c.deliver(ctx, headerToBlock(h), out); err != nil {
			return err
		}
		*next++
	}
	return nil
}

func (c *Connector) deliver(ctx context.Context, block types.MinedBlock, out chan<- types.MinedBlock) error {
	select {
	case out <- block:
		c.metrics.SetFeedHead(block.Number)
		return nil
	case <-c.stopCh:
		return ErrServiceStopping
	case <-ctx.Done():
		return ctx.Err()
	}
}

func headerToBlock(h *gethtypes.Header) types.MinedBlock {
	return types.MinedBlock{
		Number:    h.Number.Uint64(),
		Hash:      h.Hash(),
		Timestamp: h.Time,
	}
}
