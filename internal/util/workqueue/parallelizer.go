package workqueue

import (
	"context"
	"sync"

	log "liveavatar-agent-golang/logger"
)

type DoWorkPieceFunc func(piece int)

// ParallelizeUntil 用最多 workers 个协程处理 pieces 个独立任务，ctx 结束后不再领取新任务
func ParallelizeUntil(ctx context.Context, workers, pieces int, doWorkPiece DoWorkPieceFunc) {
	if pieces <= 0 {
		return
	}
	var stop <-chan struct{}
	if ctx != nil {
		stop = ctx.Done()
	}

	toProcess := make(chan int, pieces)
	for i := 0; i < pieces; i++ {
		toProcess <- i
	}
	close(toProcess)

	if workers <= 0 {
		workers = 1
	}
	if pieces < workers {
		workers = pieces
	}

	wg := sync.WaitGroup{}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for piece := range toProcess {
				select {
				case <-stop:
					return
				default:
					runPiece(doWorkPiece, piece)
				}
			}
		}()
	}
	wg.Wait()
}

func runPiece(doWorkPiece DoWorkPieceFunc, piece int) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("work piece %d panic: %v", piece, r)
		}
	}()
	doWorkPiece(piece)
}
