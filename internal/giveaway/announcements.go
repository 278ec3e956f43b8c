package giveaway

import (
	"fmt"
	"log"

	"github.com/kit-courier/bot/internal/relay"
)

// Announcer broadcasts giveaway lifecycle events to game chat and the relay
// channel. It implements Observer and is wired at startup.
type Announcer struct {
	chat    Submitter
	msgr    relay.Messenger
	channel string
}

func NewAnnouncer(chat Submitter, msgr relay.Messenger, channel string) *Announcer {
	return &Announcer{chat: chat, msgr: msgr, channel: channel}
}

func (a *Announcer) GiveawayCreated(info Info) {
	a.chat.SubmitWait("GIVEAWAY STARTED!", false, false)
	a.chat.SubmitWait(fmt.Sprintf("Prize: %s", info.Prize), false, false)
	a.chat.SubmitWait(fmt.Sprintf("%d minutes | Join: $giveaway", int(info.Duration.Minutes())), false, false)

	embed := relay.Embed{
		Title: "Giveaway Started!",
		Description: fmt.Sprintf("**Prize:** %s\n**Duration:** %d minutes\n**How to join:** Type `$giveaway` in game chat\n**Started by:** %s",
			info.Prize, int(info.Duration.Minutes()), info.CreatedBy),
		Color: relay.ColorSuccess,
		Fields: []relay.Field{
			{Name: "Participants", Value: "0", Inline: true},
			{Name: "Ends at", Value: info.EndTime.Format("15:04:05"), Inline: true},
		},
	}
	if err := a.msgr.SendEmbed(a.channel, embed); err != nil {
		log.Printf("giveaway: relay announce failed: %v", err)
	}
}

func (a *Announcer) GiveawayEnded(result Result) {
	if result.Winner != "" {
		a.chat.SubmitWait(fmt.Sprintf("GIVEAWAY ENDED! Winner: %s!", result.Winner), false, false)
		a.chat.SubmitWait(fmt.Sprintf("%s won: %s", result.Winner, result.Info.Prize), false, false)
		a.chat.SubmitWait(fmt.Sprintf("/msg %s CONGRATULATIONS! You won the giveaway! Prize: %s. Contact staff to claim.",
			result.Winner, result.Info.Prize), false, false)

		embed := relay.Embed{
			Title: "Giveaway Ended - Winner!",
			Description: fmt.Sprintf("**Winner:** %s\n**Prize:** %s\n**Participants:** %d",
				result.Winner, result.Info.Prize, result.ParticipantCount),
			Color: relay.ColorSuccess,
		}
		if err := a.msgr.SendEmbed(a.channel, embed); err != nil {
			log.Printf("giveaway: relay announce failed: %v", err)
		}
		return
	}

	a.chat.SubmitWait("Giveaway ended - no participants!", false, false)
	embed := relay.Embed{
		Title:       "Giveaway Ended - No Winner",
		Description: fmt.Sprintf("**Prize:** %s\n**Participants:** 0", result.Info.Prize),
		Color:       relay.ColorWarning,
	}
	if err := a.msgr.SendEmbed(a.channel, embed); err != nil {
		log.Printf("giveaway: relay announce failed: %v", err)
	}
}

func (a *Announcer) GiveawayCancelled(info Info) {
	a.chat.SubmitWait("Giveaway cancelled by admin!", false, false)
	a.chat.SubmitWait(fmt.Sprintf("Prize: %s - no winner", info.Prize), false, false)

	embed := relay.Embed{
		Title: "Giveaway Cancelled",
		Description: fmt.Sprintf("**Prize:** %s\n**Participants:** %d\n**Status:** Cancelled by administrator",
			info.Prize, len(info.Participants)),
		Color: relay.ColorError,
	}
	if err := a.msgr.SendEmbed(a.channel, embed); err != nil {
		log.Printf("giveaway: relay announce failed: %v", err)
	}
}
