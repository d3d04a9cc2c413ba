package chatlogd

import (
	"fmt"
	"path/filepath"
)

// PathMap computes the deterministic on-disk locations for channel-day
// files and user-month index files beneath a single root directory R.
type PathMap struct {
	Root string
}

// ChannelDayFile returns R/{channel_id}/{year}/{month}/{day}.txt. Components
// are not zero-padded.
func (p PathMap) ChannelDayFile(channelID string, year, month, day int) string {
	return filepath.Join(p.Root, channelID, itoa(year), itoa(month), fmt.Sprintf("%d.txt", day))
}

// ChannelDayArchive returns the optional .gz sibling of ChannelDayFile,
// read-only for the core.
func (p PathMap) ChannelDayArchive(channelID string, year, month, day int) string {
	return p.ChannelDayFile(channelID, year, month, day) + ".gz"
}

// UsersDir returns R/{channel_id}/{year}/{month}/users/.
func (p PathMap) UsersDir(channelID string, year, month int) string {
	return filepath.Join(p.Root, channelID, itoa(year), itoa(month), "users")
}

// UserMonthIndex returns R/{channel_id}/{year}/{month}/users/{user_id}.indexes.
func (p PathMap) UserMonthIndex(channelID string, year, month int, userID string) string {
	return filepath.Join(p.UsersDir(channelID, year, month), userID+".indexes")
}

func itoa(n int) string {
	return fmt.Sprintf("%d", n)
}
