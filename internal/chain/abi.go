package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// qnaABIJSON describes the bounty contract surface the service uses.
const qnaABIJSON = `[
  {"type":"function","name":"askQuestion","stateMutability":"nonpayable",
   "inputs":[{"name":"user","type":"address"},{"name":"title","type":"string"},{"name":"bounty","type":"uint256"}],
   "outputs":[{"name":"qId","type":"uint256"}]},
  {"type":"function","name":"rewardUser","stateMutability":"nonpayable",
   "inputs":[{"name":"qId","type":"uint256"},{"name":"answerer","type":"address"}],"outputs":[]},
  {"type":"function","name":"fundBounty","stateMutability":"payable",
   "inputs":[{"name":"qId","type":"uint256"}],"outputs":[]},
  {"type":"function","name":"bountyOf","stateMutability":"view",
   "inputs":[{"name":"qId","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getQuestion","stateMutability":"view",
   "inputs":[{"name":"qId","type":"uint256"}],
   "outputs":[{"name":"id","type":"uint256"},{"name":"asker","type":"address"},{"name":"title","type":"string"},
              {"name":"bounty","type":"uint256"},{"name":"resolved","type":"bool"}]},
  {"type":"function","name":"questionCount","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
  {"type":"event","name":"QuestionAsked","anonymous":false,
   "inputs":[{"name":"qId","type":"uint256","indexed":true},{"name":"asker","type":"address","indexed":true},
             {"name":"title","type":"string","indexed":false},{"name":"bounty","type":"uint256","indexed":false}]},
  {"type":"event","name":"BountyFunded","anonymous":false,
   "inputs":[{"name":"qId","type":"uint256","indexed":true},{"name":"funder","type":"address","indexed":true},
             {"name":"amount","type":"uint256","indexed":false}]},
  {"type":"event","name":"UserRewarded","anonymous":false,
   "inputs":[{"name":"qId","type":"uint256","indexed":true},{"name":"answerer","type":"address","indexed":true},
             {"name":"amount","type":"uint256","indexed":false}]}
]`

// Contract method names.
const (
	MethodAskQuestion   = "askQuestion"
	MethodRewardUser    = "rewardUser"
	MethodFundBounty    = "fundBounty"
	MethodBountyOf      = "bountyOf"
	MethodGetQuestion   = "getQuestion"
	MethodQuestionCount = "questionCount"
)

var contractABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(qnaABIJSON))
	if err != nil {
		panic("chain: invalid contract ABI: " + err.Error())
	}
	return parsed
}

// ContractABI returns the parsed contract ABI.
func ContractABI() abi.ABI {
	return contractABI
}
