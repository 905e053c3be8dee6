package moderation

import (
	"sync"
	"time"
)

type punishKey struct {
	guildID int64
	userID  int64
}

var (
	punishLocks   = make(map[punishKey]bool)
	punishLocksmu sync.Mutex
)

// lockPunish makes sure only one punishment per (guild, user) is in
// flight at a time, blocking until the key is free.
func lockPunish(guildID, userID int64) {
	key := punishKey{guildID: guildID, userID: userID}

	for {
		punishLocksmu.Lock()
		if l, ok := punishLocks[key]; !ok || !l {
			punishLocks[key] = true
			punishLocksmu.Unlock()
			return
		}
		punishLocksmu.Unlock()

		time.Sleep(time.Millisecond * 250)
	}
}

func unlockPunish(guildID, userID int64) {
	punishLocksmu.Lock()
	delete(punishLocks, punishKey{guildID: guildID, userID: userID})
	punishLocksmu.Unlock()
}
