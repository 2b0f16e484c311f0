package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/0xmhha/tokenwallet-go/pkg/types"
)

// WatchMinedBlocks consumes the block feed until it closes or ctx ends.
// Every block is announced and requests a catch-up scan.
func (o *Orchestrator) WatchMinedBlocks(ctx context.Context, feed <-chan types.MinedBlock) {
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-feed:
			if !ok {
				return
			}
			o.publish(ctx, types.Event{Kind: types.EventNewBlockMined, BlockNumber: block.Number})

			if scan, _ := o.triggers(); scan != nil {
				scan()
				continue
			}
			if _, err := o.ScanNewerBlocks(ctx); err != nil {
				o.logger.Warn("catch-up scan failed",
					zap.Uint64("block_number", block.Number),
					zap.Error(err))
			}
		}
	}
}
