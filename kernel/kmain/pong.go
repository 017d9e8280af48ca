package kmain

import "pluggos/kernel/kfmt"

const (
	pongPaddleWidth  = 15
	pongPaddleHeight = 80
	pongBallSize     = 15
	pongPaddleStep   = 25
	pongMaxBallSpeed = 127
	pongWinningScore = 3

	// The CPU paddle ignores a ball that is this close to its center.
	pongCPUDeadZone = 5
)

type gameMode uint8

const (
	modeMenu gameMode = iota
	modeOnePlayer
	modeTwoPlayer
	modeGameOver
)

// pongGame holds the state of a pong match played on a width x height field.
// Player 1 owns the left paddle. The right paddle belongs to player 2 or, in
// one player mode, to the CPU.
type pongGame struct {
	width, height int32

	mode     gameMode
	menuItem int

	ballX, ballY   int32
	ballDX, ballDY int32

	leftPaddle, rightPaddle int32
	leftScore, rightScore   uint8
	winner                  string

	seed uint32
}

func newPongGame(width, height int32) *pongGame {
	return &pongGame{
		width:       width,
		height:      height,
		ballX:       width / 2,
		ballY:       height / 2,
		ballDX:      70,
		ballDY:      70,
		leftPaddle:  height / 2,
		rightPaddle: height / 2,
		seed:        42,
	}
}

// tick advances the match by one timer tick. It does nothing outside of a
// match.
func (g *pongGame) tick() {
	if !g.playing() {
		return
	}

	switch {
	case g.leftScore >= pongWinningScore:
		g.finish("PLAYER 1 WINS!")
		return
	case g.rightScore >= pongWinningScore && g.mode == modeOnePlayer:
		g.finish("CPU WINS!")
		return
	case g.rightScore >= pongWinningScore:
		g.finish("PLAYER 2 WINS!")
		return
	}

	g.ballX += g.ballDX
	g.ballY += g.ballDY

	switch {
	case g.ballY <= 0:
		g.ballY = 0
		g.ballDY = abs32(g.ballDY)
	case g.ballY >= g.height-pongBallSize:
		g.ballY = g.height - pongBallSize
		g.ballDY = -abs32(g.ballDY)
	}

	if g.mode == modeOnePlayer {
		g.moveCPUPaddle()
	}

	switch {
	case g.ballX <= pongPaddleWidth:
		if !g.hitsPaddle(g.leftPaddle) {
			g.rightScore++
			g.resetBall()
			break
		}
		g.ballDX = min(abs32(g.ballDX)+5, pongMaxBallSpeed)
		g.ballDY += g.rand()%7 - 3
	case g.ballX >= g.width-pongPaddleWidth-pongBallSize:
		if !g.hitsPaddle(g.rightPaddle) {
			g.leftScore++
			g.resetBall()
			break
		}
		g.ballDX = -min(abs32(g.ballDX)+5, pongMaxBallSpeed)
		g.ballDY += g.rand()%7 - 3
	}

	g.ballDX = clamp(g.ballDX, -pongMaxBallSpeed, pongMaxBallSpeed)
	g.ballDY = clamp(g.ballDY, -pongMaxBallSpeed, pongMaxBallSpeed)
}

// handleKey applies a key press. Letters are matched case-insensitively.
func (g *pongGame) handleKey(ch byte) {
	if ch >= 'A' && ch <= 'Z' {
		ch += 'a' - 'A'
	}

	switch g.mode {
	case modeMenu:
		switch ch {
		case 'w':
			if g.menuItem > 0 {
				g.menuItem--
			}
		case 's':
			if g.menuItem < 1 {
				g.menuItem++
			}
		case '\n':
			g.start()
		}
	case modeOnePlayer, modeTwoPlayer:
		switch ch {
		case 'w':
			g.moveLeftPaddle(-pongPaddleStep)
		case 's':
			g.moveLeftPaddle(pongPaddleStep)
		case 'i':
			g.moveRightPaddle(-pongPaddleStep)
		case 'k':
			g.moveRightPaddle(pongPaddleStep)
		}
	case modeGameOver:
		if ch == '\n' {
			g.mode = modeMenu
		}
	}
}

func (g *pongGame) playing() bool {
	return g.mode == modeOnePlayer || g.mode == modeTwoPlayer
}

func (g *pongGame) start() {
	g.mode = modeOnePlayer
	if g.menuItem == 1 {
		g.mode = modeTwoPlayer
	}

	g.leftScore, g.rightScore = 0, 0
	g.winner = ""
	g.resetBall()
}

func (g *pongGame) finish(winner string) {
	g.mode = modeGameOver
	g.winner = winner
}

func (g *pongGame) moveLeftPaddle(delta int32) {
	if g.playing() {
		g.leftPaddle = g.paddleTop(g.leftPaddle + delta)
	}
}

// moveRightPaddle is ignored in one player mode where the CPU owns the right
// paddle.
func (g *pongGame) moveRightPaddle(delta int32) {
	if g.mode == modeTwoPlayer {
		g.rightPaddle = g.paddleTop(g.rightPaddle + delta)
	}
}

// moveCPUPaddle steers the right paddle towards where the ball will be two
// ticks from now.
func (g *pongGame) moveCPUPaddle() {
	center := g.rightPaddle + pongPaddleHeight/2
	target := g.ballY + g.ballDY*2

	switch {
	case center < target-pongCPUDeadZone:
		g.rightPaddle = g.paddleTop(g.rightPaddle + pongPaddleStep)
	case center > target+pongCPUDeadZone:
		g.rightPaddle = g.paddleTop(g.rightPaddle - pongPaddleStep)
	}
}

func (g *pongGame) paddleTop(top int32) int32 {
	return clamp(top, 0, g.height-pongPaddleHeight)
}

func (g *pongGame) hitsPaddle(top int32) bool {
	return g.ballY+pongBallSize >= top && g.ballY <= top+pongPaddleHeight
}

// resetBall serves from the center towards a random side.
func (g *pongGame) resetBall() {
	g.ballX, g.ballY = g.width/2, g.height/2

	g.ballDX = 100
	if g.rand()%2 != 0 {
		g.ballDX = -100
	}
	g.ballDY = g.rand()%15 - 7
}

// rand returns a pseudo-random value in [-128, 127] from a linear
// congruential generator.
func (g *pongGame) rand() int32 {
	g.seed = g.seed*1664525 + 1013904223
	return int32(int8(g.seed >> 16))
}

// pongView is a snapshot of the game that can be rendered after the lock
// guarding the game has been dropped.
type pongView struct {
	mode                    gameMode
	menuItem                int
	leftScore, rightScore   uint8
	winner                  string
	ballX, ballY            int32
	leftPaddle, rightPaddle int32
	speed                   int32
}

func (g *pongGame) view() pongView {
	return pongView{
		mode:        g.mode,
		menuItem:    g.menuItem,
		leftScore:   g.leftScore,
		rightScore:  g.rightScore,
		winner:      g.winner,
		ballX:       g.ballX,
		ballY:       g.ballY,
		leftPaddle:  g.leftPaddle,
		rightPaddle: g.rightPaddle,
		speed:       max(abs32(g.ballDX), abs32(g.ballDY)),
	}
}

// sameScreen returns true if v and other show the same menu selection, score
// or game over screen.
func (v pongView) sameScreen(other pongView) bool {
	return v.mode == other.mode &&
		v.menuItem == other.menuItem &&
		v.leftScore == other.leftScore &&
		v.rightScore == other.rightScore
}

func (v pongView) playing() bool {
	return v.mode == modeOnePlayer || v.mode == modeTwoPlayer
}

func (v pongView) render() {
	switch v.mode {
	case modeMenu:
		kfmt.Printf("[pong] ULTRA PONG\n")
		kfmt.Printf("[pong] %c 1 PLAYER\n", menuMarker(v.menuItem == 0))
		kfmt.Printf("[pong] %c 2 PLAYERS\n", menuMarker(v.menuItem == 1))
		kfmt.Printf("[pong] controls: W/S for player 1, I/K for player 2\n")
		kfmt.Printf("[pong] first to %d points wins; W/S to select and ENTER to start\n", pongWinningScore)
	case modeGameOver:
		kfmt.Printf("[pong] %s GAME OVER, final score: %d - %d\n", v.winner, v.leftScore, v.rightScore)
		kfmt.Printf("[pong] press ENTER to return to the menu\n")
	default:
		kfmt.Printf("[pong] score %d - %d, ball (%d, %d), paddles %d/%d, speed %d/%d\n",
			v.leftScore, v.rightScore, v.ballX, v.ballY, v.leftPaddle, v.rightPaddle, v.speed, pongMaxBallSpeed,
		)
	}
}

func menuMarker(selected bool) byte {
	if selected {
		return '>'
	}
	return ' '
}

func abs32(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}
