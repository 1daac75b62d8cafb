package dialogue

const invalidSentinel = "INVALID"

const (
	greetingReply = "Hello! Welcome to the Mortgage Advisor chatbot. I'm here to assist you with a preliminary mortgage eligibility assessment. Would you like to begin the assessment process today? Just let me know when you're ready to get started!"

	proceedReply = "Great! Let's get started with your mortgage assessment. First, I'll need to know your annual income. Please tell me your total yearly income before taxes."
	declineReply = "No problem! Feel free to come back anytime when you're ready to explore your mortgage options. Have a great day!"
	unclearReply = "I want to make sure I understand correctly. Are you interested in getting a mortgage eligibility assessment today? Please let me know with a simple yes or no."

	incomeRetry   = "I need a valid annual income amount. Please provide your yearly income before taxes as a number (for example: 75000 or 75k)."
	debtRetry     = "Please provide a valid monthly debt amount as a number (for example: 1500 or 0 if you have no debt)."
	creditRetry   = "Please specify your credit score range: Excellent (750+), Good (700-749), Fair (650-699), or Poor (below 650)."
	propertyRetry = "Please provide a valid property value as a number (for example: 300000 or 300k)."
	downRetry     = "Please provide a valid down payment amount as a number (for example: 50000 or 50k)."

	incomeAccepted   = "Thank you! I've recorded your annual income as $%s. Next, I need to understand your monthly debt obligations. Please tell me your total monthly debt payments (credit cards, student loans, car payments, etc.)."
	debtAccepted     = "Got it! I've recorded your monthly debt as $%s. Now, what's your credit score range? Please choose from: Excellent (750+), Good (700-749), Fair (650-699), or Poor (below 650)."
	creditAccepted   = "Perfect! I've noted your credit score as %s. Now, what's the value of the property you're looking to purchase?"
	propertyAccepted = "Excellent! I've recorded the property value as $%s. Finally, how much are you planning to put down as a down payment?"

	assessmentReady   = "✅ Your mortgage assessment is complete! Please see the detailed results below."
	missingInputsText = "I'm missing some information. Let me start over to collect all needed details."
	alreadyComplete   = "Assessment completed. Would you like to start over?"

	// GenericErrorReply is sent when a turn fails on infrastructure rather than input.
	GenericErrorReply = "I'm sorry, I encountered an error. Please try again."
)

// Instructions sent to the interpreter alongside the applicant's raw message.
const (
	confirmationInstruction = `Analyze the user's message and determine if they are expressing consent or agreement to proceed with a mortgage eligibility assessment.

Instructions:
- If the user says yes, agrees, or wants to continue, respond with exactly: "PROCEED"
- If the user says no, declines, or wants to stop, respond with exactly: "DECLINE"
- If the message is unclear, respond with exactly: "UNCLEAR"`

	incomeInstruction = `Extract the annual income amount from the user's message. The user is providing their yearly income before taxes.

Instructions:
- Extract the numeric value representing annual income
- Convert to a plain number (e.g., "50k" -> 50000, "75,000" -> 75000)
- If you find a valid income, respond with just the number
- If no valid income found, respond with "INVALID"`

	debtInstruction = `Extract the monthly debt amount from the user's message. This includes credit cards, loans, car payments, etc.

Instructions:
- Extract the numeric value representing monthly debt payments
- Convert to a plain number (e.g., "1500" -> 1500, "1.5k" -> 1500)
- If you find a valid debt amount, respond with just the number
- If the user explicitly says they have "no debt", "zero debt", or "0", respond with "0"
- If the user says "I don't know", "not sure", or gives a non-numeric answer, respond with "INVALID"
- If no valid amount found, respond with "INVALID"`

	creditInstruction = `Determine the credit score category from the user's message.

Instructions:
- Match to one of these categories: "Excellent", "Good", "Fair", "Poor"
- Look for keywords like "excellent", "good", "fair", "poor" or score ranges
- Excellent: 750+, Good: 700-749, Fair: 650-699, Poor: below 650
- Respond with exactly one of: "Excellent", "Good", "Fair", "Poor"
- If unclear, respond with "INVALID"`

	propertyInstruction = `Extract the property value from the user's message.

Instructions:
- Extract the numeric value representing the property or home value
- Convert to a plain number (e.g., "300k" -> 300000, "450,000" -> 450000)
- If you find a valid property value, respond with just the number
- If no valid value found, respond with "INVALID"`

	downPaymentInstruction = `Extract the down payment amount from the user's message.

Instructions:
- Extract the numeric value representing the down payment
- Convert to a plain number (e.g., "50k" -> 50000, "60,000" -> 60000)
- If you find a valid down payment, respond with just the number
- If no valid amount found, respond with "INVALID"`
)
