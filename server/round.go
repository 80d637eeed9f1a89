package server

import (
	"context"
	"runtime/debug"
	"time"
)

// runRounds 房间的轮次循环：公布目标 → 收集猜测 → 结算 → 下一轮或结束。
// 每个阶段边界都会重新确认房间仍然存在；等待期间不持有锁。
func (m *RoomManager) runRounds(ctx context.Context, r *Room) {
	defer m.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			Log.Errorf("round loop panic: room=%s panic=%v\n%s", r.ID, p, debug.Stack())
			m.abortGame(r)
		}
	}()

	for {
		timeout, pause, ok := m.announceRound(r)
		if !ok {
			return
		}
		if !m.collectGuesses(ctx, r, timeout) {
			return
		}
		over, ok := m.evaluateRound(r)
		if !ok || over {
			return
		}
		if pause <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(pause):
		}
	}
}

// announceRound Announcing：推进轮次、选取目标并广播 new_round
func (m *RoomManager) announceRound(r *Room) (timeout, pause time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.live(r) || r.State != StatePlaying {
		return 0, 0, false
	}
	r.phase = phaseAnnouncing
	payload := r.BeginRound(m.source.Pick())
	r.Broadcast(ActionNewRound, payload)
	r.phase = phaseCollecting
	Log.Debugf("round announced: room=%s round=%d multiplier=%.2f target=%q",
		r.ID, payload.Round, payload.Multiplier, payload.Coords.Name)
	return m.roundTimeout, m.roundPause, true
}

// collectGuesses Collecting：直到所有人都已猜测、超时或房间被删除。
// 返回 false 表示应立即退出循环且不再广播。
func (m *RoomManager) collectGuesses(ctx context.Context, r *Room, timeout time.Duration) bool {
	timer := m.clock.NewTimer(timeout)
	defer timer.Stop()

	for {
		done, alive := m.guessesComplete(r)
		if !alive {
			return false
		}
		if done {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-timer.Chan():
			return true
		case <-r.wake:
		}
	}
}

func (m *RoomManager) guessesComplete(r *Room) (done, alive bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.live(r) {
		return false, false
	}
	return r.AllGuessed(), true
}

// evaluateRound Evaluating：计分、广播结果与玩家列表，并判断是否结束
func (m *RoomManager) evaluateRound(r *Room) (over, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.live(r) {
		return false, false
	}
	start := time.Now()
	r.phase = phaseEvaluating
	result := r.Evaluate()
	r.Broadcast(ActionRoundResult, result)
	r.BroadcastRoomUpdate()
	m.publisher.Publish(r.ID, EventRoundResult, result)
	m.metrics.AddRound(time.Since(start).Nanoseconds())

	alive := r.Survivors()
	if len(alive) >= MinPlayers {
		r.phase = phaseIdle
		return false, true
	}

	var payload GameOverPayload
	if len(alive) == 1 {
		winner := alive[0].Username
		payload.Winner = &winner
	}
	r.Broadcast(ActionGameOver, payload)
	r.State = StateFinished
	r.phase = phaseIdle
	m.metrics.IncGamesFinished()
	m.publisher.Publish(r.ID, EventGameOver, payload)
	Log.Infof("game over: room=%s rounds=%d winner=%s", r.ID, r.Round, winnerName(payload.Winner))
	return true, true
}

// abortGame 轮次协程异常退出后，让房间回到可重新开局的状态
func (m *RoomManager) abortGame(r *Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.live(r) && r.State == StatePlaying {
		r.State = StateFinished
		r.phase = phaseIdle
	}
}

func winnerName(w *string) string {
	if w == nil {
		return "<none>"
	}
	return *w
}
