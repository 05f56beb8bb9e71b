package oracle

import (
	"fmt"
	"strings"
)

// Prompt templates for the forecasting model. The trade prompt pins the
// response grammar the pipeline parses (price/size/side), so its example
// block must stay in sync with domain.ParseTradeIntent.

const analystPreamble = `You are an AI assistant for analyzing prediction markets.
You will be provided with JSON output for API data from Polymarket.
Polymarket is an online prediction market that lets users bet on the outcome
of future events in a wide range of topics, like sports, politics, and pop
culture. Get accurate real-time probabilities of the events that matter most.`

// superforecasterPrompt asks the model for a probabilistic statement about a
// single market outcome.
func superforecasterPrompt(question, description, outcome string) string {
	return fmt.Sprintf(`You are a Superforecaster tasked with correctly predicting the likelihood of events.
Use the following systematic process to develop an accurate prediction for the
question=%q and description=%q combination.

Here are the key steps to use in your analysis:

1. Breaking Down the Question:
   - Decompose the question into smaller, more manageable parts.
   - Identify the key components that need to be addressed.
2. Gathering Information:
   - Seek out diverse sources of information.
   - Look for both quantitative data and qualitative insights.
3. Consider Base Rates:
   - Use statistical baselines or historical averages as a starting point.
   - Compare the current situation to similar past events.
4. Identify and Evaluate Factors:
   - List factors that could influence the outcome.
   - Weigh these factors with evidence, avoiding over-reliance on any single one.
5. Think Probabilistically:
   - Express predictions as probabilities rather than certainties.
   - Embrace uncertainty and avoid binary thinking.

Given these steps, produce a statement on the probability of outcome=%q occurring.

Give your response in the following format:

I believe %s has a likelihood <float> for outcome of %s.`,
		question, description, outcome, question, outcome)
}

// tradePrompt asks the model for a single trade in the machine-parsable
// price/size/side grammar.
func tradePrompt(prediction string, outcomes []string, outcomePrices []float64) string {
	prices := make([]string, len(outcomePrices))
	for i, p := range outcomePrices {
		prices[i] = fmt.Sprintf("%g", p)
	}

	return analystPreamble + fmt.Sprintf(`

You are the top trader on Polymarket, turning complex information into
profitable trading opportunities with a disciplined strategy and a deep
understanding of probability.

You made the following prediction for a market: %s

The current outcomes [%s] prices are: [%s]

Given your prediction, respond with a single trade in the format:

price:<price_on_the_orderbook>, size:<fraction_of_total_funds>, side:<BUY or SELL>

Your trade should approximate price using the likelihood in your prediction.

Example response:

price:0.5, size:0.1, side:BUY`,
		prediction, strings.Join(outcomes, ", "), strings.Join(prices, ", "))
}

// filterPrompt asks the model to narrow a candidate list to the entries it
// would trade profitably.
func filterPrompt(kind, payload string) string {
	return analystPreamble + fmt.Sprintf(`

Filter these %s for the ones you will be best at trading on profitably.

%s`, kind, payload)
}
