package chat

import "fmt"

// Button is either an action button or a link.
type Button struct {
	Text   string
	Action *Action
	URL    string
}

// Reply is a message plus an optional inline keyboard.
type Reply struct {
	Text     string
	Keyboard [][]Button
}

func act(text string, a Action) Button {
	return Button{Text: text, Action: &a}
}

var backRow = []Button{act("🔙 Back", Action{Kind: ActionHome})}

func homeMenu(text string) Reply {
	return Reply{
		Text: text,
		Keyboard: [][]Button{
			{act("🟢 Connect Phantom", Action{Kind: ActionConnect}), act("💰 View Balance", Action{Kind: ActionBalance})},
			{act("🔄 Swap", Action{Kind: ActionSwap})},
		},
	}
}

func pairMenu(pairs []Pair) Reply {
	row := make([]Button, 0, len(pairs))
	for _, p := range pairs {
		row = append(row, act(p.From+" → "+p.To, Action{Kind: ActionPair, From: p.From, To: p.To}))
	}
	return Reply{Text: "Select your swap direction:", Keyboard: [][]Button{row, backRow}}
}

func amountMenu(from, to string) Reply {
	return Reply{
		Text: "Select amount:",
		Keyboard: [][]Button{
			{act("MAX", Action{Kind: ActionAmount, Amount: "all", From: from, To: to})},
			{act("50%", Action{Kind: ActionAmount, Amount: "50%", From: from, To: to})},
			backRow,
		},
	}
}

func confirmMenu(a Action) Reply {
	return Reply{
		Text: fmt.Sprintf("Confirm swap: %s %s → %s?", amountLabel(a.Amount), a.From, a.To),
		Keyboard: [][]Button{{
			act("✅ Confirm", Action{Kind: ActionConfirm, Amount: a.Amount, From: a.From, To: a.To}),
			act("❌ Cancel", Action{Kind: ActionHome}),
		}},
	}
}

func linkReply(text, label, url string) Reply {
	return Reply{Text: text, Keyboard: [][]Button{{{Text: label, URL: url}}, backRow}}
}

func backOnly(text string) Reply {
	return Reply{Text: text, Keyboard: [][]Button{backRow}}
}

func amountLabel(desc string) string {
	if desc == "all" {
		return "All"
	}
	return desc
}
