package ui

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/yolodolo42/safesign/internal/signing"
)

func shortAddress(a common.Address) string {
	h := a.Hex()
	return h[:6] + "…" + h[len(h)-4:]
}

func field(label, value string) string {
	return LabelStyle.Render(label) + value + "\n"
}

// RenderAccounts renders the outcome of Safe discovery for an owner.
func RenderAccounts(owner common.Address, accounts []common.Address, discoveryErr string) string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Safe accounts") + " " + SelectorDim.Render("owned by "+owner.Hex()) + "\n")

	switch {
	case discoveryErr != "":
		b.WriteString(ErrorStyle.Render(SymbolCross+" "+discoveryErr) + "\n")
	case len(accounts) == 0:
		b.WriteString(WarningStyle.Render(SymbolWarn+" No Safe accounts found for this address") + "\n")
	default:
		for i, addr := range accounts {
			branch := SymbolTreeBranch
			if i == len(accounts)-1 {
				branch = SymbolTree
			}
			b.WriteString(SelectorDim.Render(branch) + " " + AddressStyle.Render(addr.Hex()) + "\n")
		}
	}
	return b.String()
}

// RenderView renders the discovery part of an orchestrator view
func RenderView(v signing.View) string {
	return RenderAccounts(v.Address, v.Accounts, v.DiscoveryErr)
}

// RenderResult renders a successful signature
func RenderResult(res signing.Result) string {
	var b strings.Builder
	b.WriteString(SuccessStyle.Render(SymbolCheck+" Message signed") + " " + SelectorDim.Render("("+string(res.Kind)+")") + "\n")
	b.WriteString(field("Signer", AddressStyle.Render(res.Signer.Hex())))
	if res.Safe != nil {
		b.WriteString(field("Safe", AddressStyle.Render(res.Safe.Hex())))
	}
	if res.SafeMessageHash != nil {
		b.WriteString(field("Message", res.SafeMessageHash.Hex()))
	}
	b.WriteString(field("Timestamp", strconv.FormatInt(res.Timestamp, 10)))
	b.WriteString(field("Signature", res.Signature.String()))
	return b.String()
}

// RenderError renders a failure line
func RenderError(err error) string {
	return ErrorStyle.Render(SymbolCross + " " + err.Error())
}
