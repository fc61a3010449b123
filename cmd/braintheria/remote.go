package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	braintheriasdk "github.com/fiskasyela/braintheria-backend/sdk/go"
)

func apiClient() *braintheriasdk.Client {
	return braintheriasdk.New(viper.GetString("api-url"), viper.GetString("token"))
}

func parseID(raw, name string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", name, raw)
	}
	return id, nil
}

func questionCmd() *cobra.Command {
	q := &cobra.Command{
		Use:   "question",
		Short: "Ask, browse and settle questions through the API",
		Long:  "Questions carry an optional bounty escrowed on-chain. The author accepts one answer, which pays the bounty to the answerer's wallet.",
	}
	q.AddCommand(questionCreateCmd())
	q.AddCommand(questionListCmd())
	q.AddCommand(questionGetCmd())
	q.AddCommand(questionAnswerCmd())
	q.AddCommand(questionAcceptCmd())
	q.AddCommand(questionFundCmd())
	return q
}

func questionCreateCmd() *cobra.Command {
	var in braintheriasdk.CreateQuestionInput
	var bodyFile string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Ask a question",
		RunE: func(cmd *cobra.Command, args []string) error {
			if bodyFile != "" {
				b, err := os.ReadFile(bodyFile)
				if err != nil {
					return err
				}
				in.BodyMD = string(b)
			}
			q, err := apiClient().CreateQuestion(cmd.Context(), in)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(q)
			}
			printQuestions([]braintheriasdk.Question{q})
			if q.TxFailed {
				fmt.Printf("bounty transaction failed: %s\n", q.TxError)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "question title")
	cmd.Flags().StringVar(&in.BodyMD, "body", "", "markdown body")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "read the markdown body from a file")
	cmd.Flags().StringSliceVar(&in.Files, "file", nil, "attachment reference (repeatable)")
	cmd.Flags().StringVar(&in.BountyWei, "bounty-wei", "", "bounty in wei")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func questionListCmd() *cobra.Command {
	var opts braintheriasdk.ListOptions
	var mine bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List questions with their live bounty",
		RunE: func(cmd *cobra.Command, args []string) error {
			if mine {
				opts.Author = "me"
			}
			page, err := apiClient().ListQuestions(cmd.Context(), opts)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(page)
			}
			printQuestions(page.Items)
			if page.NextCursor != "" {
				fmt.Printf("next page: --cursor %s\n", page.NextCursor)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&mine, "mine", false, "only questions asked by the token's principal")
	cmd.Flags().StringVar(&opts.Author, "author", "", "author principal id")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Open, Answered or Closed")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "page size")
	cmd.Flags().StringVar(&opts.Cursor, "cursor", "", "page cursor")
	return cmd
}

func questionGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a question and its answers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "id")
			if err != nil {
				return err
			}
			q, err := apiClient().GetQuestion(cmd.Context(), id)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(q)
			}
			printQuestions([]braintheriasdk.Question{q})
			if len(q.Answers) == 0 {
				return nil
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Answer", "Author", "Best", "CID"})
			for _, a := range q.Answers {
				best := ""
				if a.IsBest {
					best = "yes"
				}
				tw.AppendRow(table.Row{a.ID, a.AuthorID, best, a.ContentCID})
			}
			tw.Render()
			return nil
		},
	}
}

func questionAnswerCmd() *cobra.Command {
	var body string
	var files []string
	cmd := &cobra.Command{
		Use:   "answer <id>",
		Short: "Answer a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "id")
			if err != nil {
				return err
			}
			a, err := apiClient().CreateAnswer(cmd.Context(), id, body, files)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(a)
			}
			fmt.Printf("answer %d on question %d (cid %s)\n", a.ID, a.QuestionID, a.ContentCID)
			return nil
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "markdown body")
	cmd.Flags().StringSliceVar(&files, "file", nil, "attachment reference (repeatable)")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func questionAcceptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accept <id> <answer_id>",
		Short: "Accept an answer and pay the bounty",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "id")
			if err != nil {
				return err
			}
			answerID, err := parseID(args[1], "answer_id")
			if err != nil {
				return err
			}
			res, err := apiClient().AcceptAnswer(cmd.Context(), id, answerID)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(res)
			}
			fmt.Printf("question %d is %s, best answer %d\n", res.Question.ID, res.Question.Status, res.Answer.ID)
			switch {
			case res.RewardTxHash != "":
				fmt.Printf("reward tx %s\n", res.RewardTxHash)
			case res.RewardError != "":
				fmt.Printf("reward failed: %s\n", res.RewardError)
			case res.RewardSkipped != "":
				fmt.Printf("reward skipped: %s\n", res.RewardSkipped)
			}
			return nil
		},
	}
}

func questionFundCmd() *cobra.Command {
	var amount string
	cmd := &cobra.Command{
		Use:   "fund <id>",
		Short: "Top up a question's bounty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0], "id")
			if err != nil {
				return err
			}
			hash, err := apiClient().FundBounty(cmd.Context(), id, amount)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(map[string]any{"question_id": id, "tx_hash": hash})
			}
			fmt.Printf("funded question %d: tx %s\n", id, hash)
			return nil
		},
	}
	cmd.Flags().StringVar(&amount, "amount-wei", "", "amount in wei")
	_ = cmd.MarkFlagRequired("amount-wei")
	return cmd
}

func walletCmd() *cobra.Command {
	w := &cobra.Command{Use: "wallet", Short: "Manage the funding wallet of the token's principal"}
	w.AddCommand(&cobra.Command{
		Use:   "set <address>",
		Short: "Bind a funding address",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			wallet, err := apiClient().SetWallet(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(wallet)
			}
			fmt.Printf("%s -> %s\n", wallet.PrincipalID, wallet.Address)
			return nil
		},
	})
	return w
}

func meCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "me",
		Short: "Show the token's principal",
		RunE: func(cmd *cobra.Command, args []string) error {
			me, err := apiClient().Me(cmd.Context())
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(me)
			}
			addr := me.FundingAddress
			if addr == "" {
				addr = "none"
			}
			fmt.Printf("Principal: %s\nFunding address: %s (%s)\n", me.ID, addr, me.Source)
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	ev := &cobra.Command{Use: "events", Short: "Follow lifecycle events"}
	var kinds []string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Stream lifecycle events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return apiClient().StreamEvents(cmd.Context(), kinds, func(evt braintheriasdk.Event) error {
				if viper.GetBool("json") {
					return printJSON(evt)
				}
				line := fmt.Sprintf("%s %-18s question=%d", evt.At, evt.Kind, evt.QuestionID)
				if evt.AnswerID != 0 {
					line += fmt.Sprintf(" answer=%d", evt.AnswerID)
				}
				if evt.TxHash != "" {
					line += " tx=" + evt.TxHash
				}
				if evt.OnchainID != "" {
					line += " onchain=" + evt.OnchainID
				}
				if evt.Reason != "" {
					line += " reason=" + evt.Reason
				}
				fmt.Println(line)
				return nil
			})
		},
	}
	tail.Flags().StringSliceVar(&kinds, "kind", nil, "event kinds to follow (repeatable)")
	ev.AddCommand(tail)
	return ev
}

func printQuestions(items []braintheriasdk.Question) {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Title", "Status", "Bounty (wei)", "Chain ID", "Tx", "Answers"})
	for _, q := range items {
		bounty := q.BountyWei
		if q.ChainDegraded {
			bounty += " (stale)"
		} else if q.BountyProvisional {
			bounty += " (pending)"
		}
		onchain := "-"
		if q.OnchainID != nil {
			onchain = *q.OnchainID
		} else if q.ChainIDUnknown {
			onchain = "unknown"
		}
		tx := q.TxState
		if tx == "" {
			tx = "-"
		}
		tw.AppendRow(table.Row{q.ID, q.Title, q.Status, bounty, onchain, tx, q.AnswerCount})
	}
	tw.Render()
}
